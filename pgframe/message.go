package pgframe

// Kind distinguishes how a decoded frame should be interpreted, since the
// startup frame can be one of three different things sharing one wire
// shape (a 4-byte length followed by a payload starting with a 4-byte
// code), while every later frame is an ordinary typed message.
type Kind int

const (
	// KindStartup is a genuine StartupMessage: Payload's first four bytes
	// are the protocol version, the rest are "key\0value\0" pairs.
	KindStartup Kind = iota
	// KindSSLRequest is a client probing for TLS support before sending
	// its real startup message. Payload is empty.
	KindSSLRequest
	// KindCancelRequest asks the backend to cancel another connection's
	// in-flight query. Payload holds the backend PID and secret key.
	KindCancelRequest
	// KindTyped is any frame after the startup exchange: Type holds the
	// frontend/backend message type byte.
	KindTyped
)

// Message is one decoded PGFRAME frame.
type Message struct {
	Kind    Kind
	Type    byte // valid only when Kind == KindTyped
	Payload []byte
}

// IsStartupLike reports whether m belongs to the pre-StartupMessage
// exchange (SSLRequest/CancelRequest), for callers that want to keep
// looping without advancing their own state.
func (m *Message) IsStartupLike() bool {
	return m.Kind == KindSSLRequest || m.Kind == KindCancelRequest
}

// MessageCodec is the pluggable surface a caller can swap in to interpret
// a Message's Payload. PGFRAME itself never looks inside Payload; it only
// classifies frame shape. DefaultCodec is the one concrete implementation
// this package ships, and does nothing beyond that same classification -
// deeper parsing (SQL text, bind parameters, row descriptions) belongs to
// a caller's own codec, not to this framing layer.
type MessageCodec interface {
	Classify(msg *Message) Kind
}

// DefaultCodec classifies messages exactly the way Decoder already has,
// without interpreting Payload contents.
type DefaultCodec struct{}

func (DefaultCodec) Classify(msg *Message) Kind { return msg.Kind }
