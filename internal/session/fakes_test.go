package session

import (
	"context"
	"errors"
	"sync"

	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

type fakeClient struct {
	id         string
	connectErr error

	mu        sync.Mutex
	handler   whatsapp.EventHandler
	installed whatsapp.EventHandler // kept after Close to replay late events
	connected bool
	closed    bool
	sent      []string
}

func (c *fakeClient) SetEventHandler(h whatsapp.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
	c.installed = h
}

func (c *fakeClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return c.connectErr
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.handler = nil
	return nil
}

func (c *fakeClient) SendMessage(ctx context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, to+":"+text)
	return nil
}

// emit delivers evt through the attached handler, like a live client.
func (c *fakeClient) emit(evt whatsapp.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

// emitLate delivers evt even after Close, like a callback already in flight.
func (c *fakeClient) emitLate(evt whatsapp.Event) {
	c.mu.Lock()
	h := c.installed
	c.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

func (c *fakeClient) attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeProvider struct {
	mu          sync.Mutex
	clients     map[string][]*fakeClient
	creds       map[string]bool
	startedWith map[string][]bool // credentials present at each NewClient
	failWith    error
	connectErr  error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		clients:     make(map[string][]*fakeClient),
		creds:       make(map[string]bool),
		startedWith: make(map[string][]bool),
	}
}

func (p *fakeProvider) NewClient(ctx context.Context, deviceID string) (whatsapp.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return nil, p.failWith
	}
	p.startedWith[deviceID] = append(p.startedWith[deviceID], p.creds[deviceID])
	p.creds[deviceID] = true
	c := &fakeClient{id: deviceID, connectErr: p.connectErr}
	p.clients[deviceID] = append(p.clients[deviceID], c)
	return c, nil
}

func (p *fakeProvider) DeleteCredentials(deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[deviceID] = false
	return nil
}

func (p *fakeProvider) all(id string) []*fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeClient(nil), p.clients[id]...)
}

func (p *fakeProvider) latest(id string) *fakeClient {
	cs := p.all(id)
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (p *fakeProvider) live(id string) int {
	n := 0
	for _, c := range p.all(id) {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

func (p *fakeProvider) hasCreds(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[id]
}

type busEvent struct {
	name    string
	payload any
}

type recordingBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (b *recordingBus) Broadcast(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{event, payload})
}

func (b *recordingBus) named(name string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, e := range b.events {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []*whatsapp.Message
	devs []string
}

func (d *recordingDispatcher) Dispatch(msg *whatsapp.Message, client whatsapp.Sender, deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	d.devs = append(d.devs, deviceID)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}
