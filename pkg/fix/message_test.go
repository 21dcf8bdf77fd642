package fix

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/log"
)

func testCodec() *Codec {
	level, _ := log.ToLevel("debug")
	return NewCodec(log.NewTestLogger(level))
}

func TestEncodeLogon(t *testing.T) {
	c := testCodec()

	msg, err := c.Encode(MsgTypeLogon, 1, "TRADER", "EXCHANGE", "", "")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	raw := string(msg.Raw)
	if !strings.HasPrefix(raw, "8=FIX.4.2\x019=") {
		t.Errorf("frame does not start with version header: %q", raw)
	}
	for _, want := range []string{"\x0135=A\x01", "\x0134=1\x01", "\x0149=TRADER\x01", "\x0156=EXCHANGE\x01", "\x0198=0\x01", "\x01108=30\x01"} {
		if !strings.Contains(raw, want) {
			t.Errorf("frame missing %q: %q", want, raw)
		}
	}
	if strings.Contains(raw, "\x0150=") {
		t.Errorf("frame carries SenderSubID without one being supplied: %q", raw)
	}
	if !strings.HasSuffix(raw, "\x01") {
		t.Errorf("frame not delimiter-terminated: %q", raw)
	}
}

func TestEncodeLogonWithSubID(t *testing.T) {
	c := testCodec()

	msg, err := c.Encode(MsgTypeLogon, 5, "TRADER", "EXCHANGE", "DESK7", "")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(msg.Raw), "\x0150=DESK7\x01") {
		t.Errorf("frame missing SenderSubID: %q", msg.Raw)
	}
	if msg.SenderSub != "DESK7" {
		t.Errorf("SenderSub = %q, want DESK7", msg.SenderSub)
	}
}

func TestEncodeTypeExtensions(t *testing.T) {
	c := testCodec()

	tests := []struct {
		typ       MsgType
		testReqID string
		want      []string
		absent    []string
	}{
		{MsgTypeResendRequest, "", []string{"\x017=1\x01", "\x0116=0\x01"}, nil},
		{MsgTypeLogout, "", []string{"\x0158=TEST CONNECTION\x01"}, nil},
		{MsgTypeTestRequest, "PING1", []string{"\x01112=PING1\x01"}, nil},
		{MsgTypeHeartbeat, "PING1", []string{"\x01112=PING1\x01"}, nil},
		{MsgTypeHeartbeat, "", nil, []string{"\x01112="}},
	}

	for _, tt := range tests {
		msg, err := c.Encode(tt.typ, 2, "TRADER", "EXCHANGE", "", tt.testReqID)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", tt.typ, err)
		}
		raw := string(msg.Raw)
		for _, want := range tt.want {
			if !strings.Contains(raw, want) {
				t.Errorf("Encode(%s) missing %q: %q", tt.typ, want, raw)
			}
		}
		for _, absent := range tt.absent {
			if strings.Contains(raw, absent) {
				t.Errorf("Encode(%s) unexpectedly contains %q: %q", tt.typ, absent, raw)
			}
		}
	}
}

func TestEncodeValidation(t *testing.T) {
	c := testCodec()

	if _, err := c.Encode(MsgType("X"), 1, "TRADER", "EXCHANGE", "", ""); !errors.Is(err, ErrUnknownMsgType) {
		t.Errorf("unknown type: got %v, want ErrUnknownMsgType", err)
	}
	if _, err := c.Encode(MsgTypeLogon, 0, "TRADER", "EXCHANGE", "", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("zero seqnum: got %v, want ErrMissingField", err)
	}
	if _, err := c.Encode(MsgTypeLogon, 1, "", "EXCHANGE", "", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("empty sender: got %v, want ErrMissingField", err)
	}
	if _, err := c.Encode(MsgTypeLogon, 1, "TRADER", "", "", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("empty target: got %v, want ErrMissingField", err)
	}
}

func TestChecksum(t *testing.T) {
	if got := Checksum([]byte("ab")); got != 195 {
		t.Errorf("Checksum(ab) = %d, want 195", got)
	}
	if got := Checksum([]byte{0xFF, 0x01}); got != 0 {
		t.Errorf("Checksum(0xFF 0x01) = %d, want 0", got)
	}
	if got := Checksum(nil); got != 0 {
		t.Errorf("Checksum(nil) = %d, want 0", got)
	}
}

func TestEncodeChecksumTrailer(t *testing.T) {
	c := testCodec()
	trailer := regexp.MustCompile(`10=[0-9]{3}\x01$`)

	for _, typ := range []MsgType{MsgTypeLogon, MsgTypeLogout, MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest} {
		msg, err := c.Encode(typ, 7, "TRADER", "EXCHANGE", "SUB", "TR42")
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", typ, err)
		}
		if !trailer.Match(msg.Raw) {
			t.Errorf("Encode(%s) trailer malformed: %q", typ, msg.Raw)
		}
		// The trailer field is 7 bytes: "10=ccc" plus the delimiter.
		sum := Checksum(msg.Raw[:len(msg.Raw)-7])
		if sum != msg.CheckSum {
			t.Errorf("Encode(%s) checksum = %d, recomputed %d", typ, msg.CheckSum, sum)
		}
	}
}

func TestEncodeBodyLength(t *testing.T) {
	c := testCodec()

	msg, err := c.Encode(MsgTypeHeartbeat, 9, "TRADER", "EXCHANGE", "", "")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	raw := string(msg.Raw)
	head := "8=FIX.4.2\x019=" + strconv.Itoa(msg.BodyLength) + "\x01"
	if !strings.HasPrefix(raw, head) {
		t.Fatalf("header mismatch: %q, want prefix %q", raw, head)
	}
	body := raw[len(head) : len(raw)-7]
	if len(body) != msg.BodyLength {
		t.Errorf("BodyLength = %d, actual body bytes = %d", msg.BodyLength, len(body))
	}
}

func TestRoundTrip(t *testing.T) {
	c := testCodec()

	out, err := c.Encode(MsgTypeLogon, 42, "TRADER", "EXCHANGE", "DESK7", "")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	in := c.Decode(out.Raw)
	if !in.Inbound {
		t.Error("decoded message not marked inbound")
	}
	if in.Type != MsgTypeLogon {
		t.Errorf("Type = %q, want Logon", in.Type)
	}
	if in.SeqNum != 42 {
		t.Errorf("SeqNum = %d, want 42", in.SeqNum)
	}
	if in.Sender != "TRADER" || in.Target != "EXCHANGE" || in.SenderSub != "DESK7" {
		t.Errorf("identities = %q/%q/%q", in.Sender, in.Target, in.SenderSub)
	}
	if in.BeginString != BeginString {
		t.Errorf("BeginString = %q, want %q", in.BeginString, BeginString)
	}
	if in.BodyLength != out.BodyLength {
		t.Errorf("BodyLength = %d, want %d", in.BodyLength, out.BodyLength)
	}
	if !in.HasCheckSum || in.CheckSum != out.CheckSum {
		t.Errorf("CheckSum = %d (set=%v), want %d", in.CheckSum, in.HasCheckSum, out.CheckSum)
	}
	if _, err := time.Parse(SendingTimeLayout, in.SendingTime); err != nil {
		t.Errorf("SendingTime %q does not match layout: %v", in.SendingTime, err)
	}
	if sum := Checksum(in.Raw[:len(in.Raw)-7]); sum != in.CheckSum {
		t.Errorf("recomputed checksum %d != decoded %d", sum, in.CheckSum)
	}
}

func TestDecodeUnknownTagAndType(t *testing.T) {
	c := testCodec()

	raw := []byte("8=FIX.4.2\x019=30\x0135=D\x0134=3\x019999=custom\x0110=123\x01")
	msg := c.Decode(raw)

	if msg.Type != "" {
		t.Errorf("unsupported type should stay unset, got %q", msg.Type)
	}
	if msg.SeqNum != 3 {
		t.Errorf("SeqNum = %d, want 3", msg.SeqNum)
	}
	if v, ok := msg.Get(9999); !ok || v != "custom" {
		t.Errorf("unknown tag lost: %q %v", v, ok)
	}
	found := false
	for _, f := range msg.Fields() {
		if f.Tag == 9999 && f.Name == "9999" {
			found = true
		}
	}
	if !found {
		t.Error("unknown tag not keyed by its numeric string")
	}
}

func TestDecodeChecksumLenient(t *testing.T) {
	c := testCodec()

	msg := c.Decode([]byte("8=FIX.4.2\x0135=0\x0110=0xy\x01"))
	if msg.HasCheckSum {
		t.Errorf("unparsable checksum should yield no attribute, got %d", msg.CheckSum)
	}

	msg = c.Decode([]byte("8=FIX.4.2\x0135=0\x0110=063\x01"))
	if !msg.HasCheckSum || msg.CheckSum != 63 {
		t.Errorf("CheckSum = %d (set=%v), want 63", msg.CheckSum, msg.HasCheckSum)
	}
}

func TestDecodeValueWithEquals(t *testing.T) {
	c := testCodec()

	msg := c.Decode([]byte("8=FIX.4.2\x0135=5\x0158=key=value\x0110=100\x01"))
	if v, ok := msg.Get(TagText); !ok || v != "key=value" {
		t.Errorf("Text = %q %v, want key=value", v, ok)
	}
}

func TestDecodePreservesFieldOrder(t *testing.T) {
	c := testCodec()

	raw := []byte("8=FIX.4.2\x019=20\x0135=A\x0149=EXCHANGE\x0156=TRADER\x0110=001\x01")
	msg := c.Decode(raw)

	want := []int{TagBeginString, TagBodyLength, TagMsgType, TagSenderCompID, TagTargetCompID, TagCheckSum}
	fields := msg.Fields()
	if len(fields) != len(want) {
		t.Fatalf("field count = %d, want %d", len(fields), len(want))
	}
	for i, tag := range want {
		if fields[i].Tag != tag {
			t.Errorf("field %d tag = %d, want %d", i, fields[i].Tag, tag)
		}
	}
}

func TestDictionaryBijective(t *testing.T) {
	if len(fieldNames) != len(fieldTags) {
		t.Errorf("field name map not bijective: %d names, %d tags", len(fieldNames), len(fieldTags))
	}
	for tag, name := range fieldNames {
		if back, ok := FieldTag(name); !ok || back != tag {
			t.Errorf("FieldTag(%s) = %d %v, want %d", name, back, ok, tag)
		}
	}
	if len(msgTypeNames) != len(msgTypeCodes) {
		t.Errorf("msg type map not bijective: %d codes, %d names", len(msgTypeNames), len(msgTypeCodes))
	}
}

func TestRender(t *testing.T) {
	c := testCodec()

	msg, err := c.Encode(MsgTypeLogon, 1, "TRADER", "EXCHANGE", "", "")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	out := msg.Render()
	if !strings.Contains(out, "MsgType (35): A (Logon)") {
		t.Errorf("render missing annotated MsgType line:\n%s", out)
	}
	lines := strings.Split(out, "\n")
	if len(lines) < 3 {
		t.Fatalf("render too short:\n%s", out)
	}
	border := lines[0]
	if lines[len(lines)-1] != border {
		t.Error("render borders differ")
	}
	for _, line := range lines[1 : len(lines)-1] {
		if len(line) > len(border) {
			t.Errorf("line wider than border: %q", line)
		}
	}
}
