// Package fix implements the tag=value message codec and frame splitter for
// the administrative subset of the FIX 4.2 session layer: Logon, Logout,
// Heartbeat, TestRequest and ResendRequest framing with BodyLength and
// mod-256 CheckSum trailers.
package fix

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/luxfi/log"
)

var (
	ErrUnknownMsgType = errors.New("unknown message type")
	ErrMissingField   = errors.New("missing required field")
)

// Field is one tag=value pair in wire order. Name falls back to the raw tag
// string when the tag is not in the dictionary, and Enum carries the symbolic
// value name for enumerated fields (display only).
type Field struct {
	Tag   int
	Name  string
	Value string
	Enum  string
}

// Message is a single framed message, either built for sending or parsed off
// the wire. Immutable after construction.
type Message struct {
	fields []Field

	Type        MsgType
	SeqNum      uint64
	Sender      string
	Target      string
	SenderSub   string
	TestReqID   string
	SendingTime string
	BeginString string
	BodyLength  int
	CheckSum    int
	HasCheckSum bool

	// Inbound distinguishes parsed messages from locally built ones.
	Inbound bool

	// Raw is the full frame including header and checksum trailer.
	Raw []byte
}

// Fields returns the tag=value pairs in wire order.
func (m *Message) Fields() []Field {
	return m.fields
}

// Get returns the raw value of the first field with the given tag.
func (m *Message) Get(tag int) (string, bool) {
	for _, f := range m.fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// TypeName returns the symbolic name of the message type, or "" when the
// type was absent or not recognized.
func (m *Message) TypeName() string {
	return m.Type.Name()
}

// Codec builds and parses framed messages.
type Codec struct {
	log log.Logger
}

func NewCodec(logger log.Logger) *Codec {
	return &Codec{log: logger}
}

// Checksum is the sum of all frame bytes before the CheckSum field, mod 256.
func Checksum(frame []byte) int {
	sum := 0
	for i := 0; i < len(frame); i++ {
		sum += int(frame[i])
	}
	return sum % 256
}

// Encode builds an outbound message of the given type. senderSub and
// testReqID are optional and ignored by types that do not carry them.
// SendingTime is always stamped here, never supplied by the caller.
func (c *Codec) Encode(typ MsgType, seqNum uint64, sender, target, senderSub, testReqID string) (*Message, error) {
	if !typ.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMsgType, string(typ))
	}
	if seqNum == 0 {
		return nil, fmt.Errorf("%w: MsgSeqNum", ErrMissingField)
	}
	if sender == "" {
		return nil, fmt.Errorf("%w: SenderCompID", ErrMissingField)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: TargetCompID", ErrMissingField)
	}

	sendingTime := time.Now().UTC().Format(SendingTimeLayout)

	body := []Field{
		{Tag: TagMsgType, Value: string(typ)},
		{Tag: TagMsgSeqNum, Value: strconv.FormatUint(seqNum, 10)},
		{Tag: TagSenderCompID, Value: sender},
		{Tag: TagTargetCompID, Value: target},
		{Tag: TagSendingTime, Value: sendingTime},
	}

	switch typ {
	case MsgTypeLogon:
		body = append(body,
			Field{Tag: TagEncryptMethod, Value: "0"},
			Field{Tag: TagHeartBtInt, Value: strconv.Itoa(HeartBtIntSeconds)})
		if senderSub != "" {
			body = append(body, Field{Tag: TagSenderSubID, Value: senderSub})
		}
	case MsgTypeResendRequest:
		// Request retransmission of everything from the start of the
		// counterparty's sequence.
		body = append(body,
			Field{Tag: TagBeginSeqNo, Value: "1"},
			Field{Tag: TagEndSeqNo, Value: "0"})
	case MsgTypeLogout:
		body = append(body, Field{Tag: TagText, Value: "TEST CONNECTION"})
	case MsgTypeTestRequest, MsgTypeHeartbeat:
		if testReqID != "" {
			body = append(body, Field{Tag: TagTestReqID, Value: testReqID})
		}
	}

	var bodyBuf bytes.Buffer
	for _, f := range body {
		fmt.Fprintf(&bodyBuf, "%d=%s%c", f.Tag, f.Value, SOH)
	}

	var frame bytes.Buffer
	fmt.Fprintf(&frame, "%d=%s%c", TagBeginString, BeginString, SOH)
	fmt.Fprintf(&frame, "%d=%d%c", TagBodyLength, bodyBuf.Len(), SOH)
	frame.Write(bodyBuf.Bytes())

	sum := Checksum(frame.Bytes())
	fmt.Fprintf(&frame, "%d=%03d%c", TagCheckSum, sum, SOH)

	fields := make([]Field, 0, len(body)+3)
	fields = append(fields,
		Field{Tag: TagBeginString, Value: BeginString},
		Field{Tag: TagBodyLength, Value: strconv.Itoa(bodyBuf.Len())})
	fields = append(fields, body...)
	fields = append(fields, Field{Tag: TagCheckSum, Value: fmt.Sprintf("%03d", sum)})
	for i := range fields {
		fields[i].Name = fieldNames[fields[i].Tag]
		if codes, ok := enumNames[fields[i].Tag]; ok {
			fields[i].Enum = codes[fields[i].Value]
		}
	}

	return &Message{
		fields:      fields,
		Type:        typ,
		SeqNum:      seqNum,
		Sender:      sender,
		Target:      target,
		SenderSub:   senderSub,
		TestReqID:   testReqID,
		SendingTime: sendingTime,
		BeginString: BeginString,
		BodyLength:  bodyBuf.Len(),
		CheckSum:    sum,
		HasCheckSum: true,
		Raw:         frame.Bytes(),
	}, nil
}

// Decode parses a raw frame into a Message. It never hard-fails: unknown
// tags keep their numeric name, unsupported message types are logged and
// left unset, and an unparsable checksum simply yields no checksum
// attribute. The checksum value is not verified against the frame content.
func (c *Codec) Decode(raw []byte) *Message {
	m := &Message{
		Inbound: true,
		Raw:     append([]byte(nil), raw...),
	}

	for _, seg := range bytes.Split(raw, []byte{SOH}) {
		if len(seg) == 0 || (len(seg) == 1 && seg[0] == 0x00) {
			continue
		}
		eq := bytes.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		tagStr := string(seg[:eq])
		value := string(seg[eq+1:])

		f := Field{Value: value}
		tag, err := strconv.Atoi(tagStr)
		if err != nil {
			f.Name = tagStr
			m.fields = append(m.fields, f)
			continue
		}
		f.Tag = tag
		if name, ok := fieldNames[tag]; ok {
			f.Name = name
		} else {
			f.Name = tagStr
		}
		if codes, ok := enumNames[tag]; ok {
			f.Enum = codes[value]
		}
		m.fields = append(m.fields, f)

		switch tag {
		case TagMsgType:
			mt := MsgType(value)
			if mt.Known() {
				m.Type = mt
			} else {
				c.log.Error("unsupported message type", "code", value)
			}
		case TagMsgSeqNum:
			if n, err := strconv.ParseUint(value, 10, 64); err == nil {
				m.SeqNum = n
			}
		case TagSenderCompID:
			m.Sender = value
		case TagTargetCompID:
			m.Target = value
		case TagSenderSubID:
			m.SenderSub = value
		case TagSendingTime:
			m.SendingTime = value
		case TagBeginString:
			m.BeginString = value
		case TagBodyLength:
			if n, err := strconv.Atoi(value); err == nil {
				m.BodyLength = n
			}
		case TagTestReqID:
			m.TestReqID = value
		case TagCheckSum:
			if n, err := strconv.Atoi(value); err == nil {
				m.CheckSum = n
				m.HasCheckSum = true
			}
		}
	}

	return m
}
