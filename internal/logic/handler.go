package logic

import (
	"context"

	"github.com/whatsapp-automation/botdesk/internal/convlog"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

// Handler reacts to one inbound message of one device. Returned errors are
// logged by the router and never stop other handlers.
type Handler interface {
	HandleMessage(ctx context.Context, msg *whatsapp.Message, client whatsapp.Sender, deviceID string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *whatsapp.Message, client whatsapp.Sender, deviceID string) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *whatsapp.Message, client whatsapp.Sender, deviceID string) error {
	return f(ctx, msg, client, deviceID)
}

// Entry is a registered handler.
type Entry struct {
	Name    string
	Kind    string
	Path    string
	Handler Handler
}

// Info is the dashboard view of an entry.
type Info struct {
	Name string `json:"name"`
}

// Env is passed to a Factory when a definition is loaded.
type Env struct {
	Name       string
	Transcript *convlog.Writer
}

// Factory builds a handler from the configuration section of a definition.
type Factory func(env Env, section map[string]any) (Handler, error)
