package realtime

// Close codes used by the client. They follow RFC 6455 section 7.4.1.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseNoStatus        = 1005
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
)

// TransportHandler receives the lifecycle events of one transport.
//
// A transport calls HandleOpen at most once, then HandleMessage for each
// inbound text frame in arrival order, and HandleClose exactly once when
// it ends, whether it opened or not. HandleError may precede HandleClose.
// Calls are made from the transport's own goroutines, never from inside
// Dialer.Dial or Transport.Close.
type TransportHandler interface {
	HandleOpen()
	HandleMessage(data []byte)
	HandleError(err error)
	HandleClose(code int, reason string)
}

// Transport is one persistent bidirectional connection.
type Transport interface {
	// Send queues a text frame for writing and returns without blocking.
	Send(data []byte) error

	// Close starts the closing handshake with the given code and returns
	// without waiting for it. HandleClose reports the same code.
	Close(code int, reason string) error
}

// Dialer opens transports. Dial returns as soon as the attempt has started;
// the outcome is reported through handler.
type Dialer interface {
	Dial(target string, handler TransportHandler) (Transport, error)
}
