package fix

// Administrative subset of the FIX 4.2 tag dictionary.
const (
	TagBeginSeqNo    = 7
	TagBeginString   = 8
	TagBodyLength    = 9
	TagCheckSum      = 10
	TagEndSeqNo      = 16
	TagMsgSeqNum     = 34
	TagMsgType       = 35
	TagSenderCompID  = 49
	TagSenderSubID   = 50
	TagSendingTime   = 52
	TagTargetCompID  = 56
	TagText          = 58
	TagEncryptMethod = 98
	TagHeartBtInt    = 108
	TagTestReqID     = 112
)

// MsgType is the single-character code carried in tag 35.
type MsgType string

const (
	MsgTypeHeartbeat     MsgType = "0"
	MsgTypeTestRequest   MsgType = "1"
	MsgTypeResendRequest MsgType = "2"
	MsgTypeLogout        MsgType = "5"
	MsgTypeLogon         MsgType = "A"
)

const (
	// BeginString is the protocol version advertised in every outbound frame.
	BeginString = "FIX.4.2"

	// SOH is the field delimiter byte.
	SOH = byte(0x01)

	// SendingTimeLayout renders tag 52 timestamps, always UTC.
	SendingTimeLayout = "20060102-15:04:05.000"

	// HeartBtIntSeconds is the heartbeat interval advertised on Logon and
	// used by the keepalive timer.
	HeartBtIntSeconds = 30
)

var fieldNames = map[int]string{
	TagBeginSeqNo:    "BeginSeqNo",
	TagBeginString:   "BeginString",
	TagBodyLength:    "BodyLength",
	TagCheckSum:      "CheckSum",
	TagEndSeqNo:      "EndSeqNo",
	TagMsgSeqNum:     "MsgSeqNum",
	TagMsgType:       "MsgType",
	TagSenderCompID:  "SenderCompID",
	TagSenderSubID:   "SenderSubID",
	TagSendingTime:   "SendingTime",
	TagTargetCompID:  "TargetCompID",
	TagText:          "Text",
	TagEncryptMethod: "EncryptMethod",
	TagHeartBtInt:    "HeartBtInt",
	TagTestReqID:     "TestReqID",
}

var fieldTags = make(map[string]int, len(fieldNames))

var msgTypeNames = map[MsgType]string{
	MsgTypeHeartbeat:     "Heartbeat",
	MsgTypeTestRequest:   "TestRequest",
	MsgTypeResendRequest: "ResendRequest",
	MsgTypeLogout:        "Logout",
	MsgTypeLogon:         "Logon",
}

var msgTypeCodes = make(map[string]MsgType, len(msgTypeNames))

// enumNames annotates decoded values with their symbolic names, keyed by tag
// then by wire code. Display only, never consulted for routing.
var enumNames = map[int]map[string]string{
	TagMsgType: {
		string(MsgTypeHeartbeat):     "Heartbeat",
		string(MsgTypeTestRequest):   "TestRequest",
		string(MsgTypeResendRequest): "ResendRequest",
		string(MsgTypeLogout):        "Logout",
		string(MsgTypeLogon):         "Logon",
	},
	TagEncryptMethod: {
		"0": "None",
	},
}

func init() {
	for tag, name := range fieldNames {
		fieldTags[name] = tag
	}
	for code, name := range msgTypeNames {
		msgTypeCodes[name] = code
	}
}

// FieldName resolves a numeric tag to its symbolic name.
func FieldName(tag int) (string, bool) {
	name, ok := fieldNames[tag]
	return name, ok
}

// FieldTag resolves a symbolic field name to its numeric tag.
func FieldTag(name string) (int, bool) {
	tag, ok := fieldTags[name]
	return tag, ok
}

// Name returns the symbolic name of the message type, or "" when the code is
// not part of the administrative dictionary.
func (t MsgType) Name() string {
	return msgTypeNames[t]
}

// Known reports whether the code belongs to the administrative dictionary.
func (t MsgType) Known() bool {
	_, ok := msgTypeNames[t]
	return ok
}
