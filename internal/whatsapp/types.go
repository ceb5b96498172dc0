package whatsapp

import "context"

// EventKind enumerates the lifecycle notifications a Client emits.
type EventKind int

const (
	EventQR EventKind = iota + 1
	EventAuthenticated
	EventReady
	EventAuthFailure
	EventDisconnected
	EventMessage
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single notification from a Client.
type Event struct {
	Kind    EventKind
	QR      string   // EventQR: raw pairing payload
	QRImage string   // EventQR: PNG data URL, empty if rendering failed
	Message *Message // EventMessage
	Reason  string   // failure or disconnect detail
}

// EventHandler receives every event of one client, in emission order.
type EventHandler func(Event)

// Sender is the part of a client that conversation handlers see.
type Sender interface {
	SendMessage(ctx context.Context, to, text string) error
}

// Client is one device connection. Close detaches the handler, disconnects
// and releases the credential store; it is safe to call more than once.
type Client interface {
	Sender
	SetEventHandler(h EventHandler)
	Connect() error
	Close() error
}
