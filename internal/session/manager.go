package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/notify"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

// Status is the lifecycle state of a device session.
type Status string

const (
	StatusInitializing  Status = "Initializing"
	StatusQRRequired    Status = "QrRequired"
	StatusAuthenticated Status = "Authenticated"
	StatusConnected     Status = "Connected"
	StatusDisconnected  Status = "Disconnected"
	StatusAuthFailed    Status = "AuthFailed"
	StatusError         Status = "Error"
)

var (
	ErrInvalidDeviceID = errors.New("invalid device id")
	ErrNotFound        = errors.New("device not found")
	ErrNotConnected    = errors.New("device not connected")
	ErrClosed          = errors.New("session manager closed")
)

var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// ValidDeviceID reports whether id is alphanumeric plus hyphen.
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// Provider creates clients and owns their stored credentials.
type Provider interface {
	NewClient(ctx context.Context, deviceID string) (whatsapp.Client, error)
	DeleteCredentials(deviceID string) error
}

// Dispatcher receives every routed inbound message.
type Dispatcher interface {
	Dispatch(msg *whatsapp.Message, client whatsapp.Sender, deviceID string)
}

// Broadcaster publishes dashboard events.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Options tunes the manager.
type Options struct {
	RestartDelay   time.Duration
	HardResetDelay time.Duration
	// RouteGroups lets group messages through to counters and handlers.
	// Only individual chats are routed otherwise.
	RouteGroups bool
}

// DeviceInfo is one row of the device list.
type DeviceInfo struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// StatusChange is the status_change payload.
type StatusChange struct {
	ClientID string `json:"clientId"`
	Status   Status `json:"status"`
}

// QRCode is the qr_code payload.
type QRCode struct {
	ClientID string `json:"clientId"`
	QR       string `json:"qr"`
	Image    string `json:"image,omitempty"`
}

// MessageView is the message part of new_message.
type MessageView struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// NewMessage is the new_message payload.
type NewMessage struct {
	ClientID string      `json:"clientId"`
	Message  MessageView `json:"message"`
}

// Session is the slot for one device id. Counters survive client restarts.
type Session struct {
	id          string
	client      whatsapp.Client
	status      Status
	lastQR      string
	lastQRImage string
	connectedAt *time.Time
	messages    int
	senders     map[string]struct{}
}

// Manager owns one client per device id.
//
// Lifecycle operations (start, teardown, hard reset, remove) are serialised
// by opMu so at most one live client exists per id. Event handling only
// takes mu, so client callbacks never wait for a Close in progress.
type Manager struct {
	provider   Provider
	dispatcher Dispatcher
	bus        Broadcaster
	opts       Options
	now        func() time.Time

	opMu     sync.Mutex
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates an empty manager. dispatcher may be nil.
func NewManager(provider Provider, dispatcher Dispatcher, bus Broadcaster, opts Options) *Manager {
	return &Manager{
		provider:   provider,
		dispatcher: dispatcher,
		bus:        bus,
		opts:       opts,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Add starts id if it is not registered yet. It reports whether a new
// session was created.
func (m *Manager) Add(id string) (bool, error) {
	if !ValidDeviceID(id) {
		return false, ErrInvalidDeviceID
	}

	m.opMu.Lock()
	m.mu.Lock()
	_, exists := m.sessions[id]
	m.mu.Unlock()
	if exists {
		m.opMu.Unlock()
		return false, nil
	}
	err := m.startLocked(id)
	m.opMu.Unlock()

	m.broadcastList()
	return true, err
}

// Start (re)creates the client for id, tearing down any previous one
// first. Connection proceeds in the background; progress is reported via
// status changes.
func (m *Manager) Start(id string) error {
	if !ValidDeviceID(id) {
		return ErrInvalidDeviceID
	}

	m.opMu.Lock()
	m.mu.Lock()
	_, existed := m.sessions[id]
	m.mu.Unlock()
	err := m.startLocked(id)
	m.opMu.Unlock()

	if !existed {
		m.broadcastList()
	}
	return err
}

func (m *Manager) startLocked(id string) error {
	m.teardownLocked(id)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	sess, ok := m.sessions[id]
	if !ok {
		sess = &Session{id: id, senders: make(map[string]struct{})}
		m.sessions[id] = sess
	}
	sess.lastQR = ""
	sess.lastQRImage = ""
	sess.connectedAt = nil
	m.mu.Unlock()

	m.transition(sess, nil, StatusInitializing)

	client, err := m.provider.NewClient(context.Background(), id)
	if err != nil {
		zap.S().Errorf("[%s] failed to create client: %v", id, err)
		m.transition(sess, nil, StatusError)
		return fmt.Errorf("start %s: %w", id, err)
	}

	m.mu.Lock()
	sess.client = client
	m.mu.Unlock()

	client.SetEventHandler(func(evt whatsapp.Event) {
		m.handleEvent(sess, client, evt)
	})

	go func() {
		if err := client.Connect(); err != nil {
			zap.S().Errorf("[%s] connect failed: %v", id, err)
			m.transition(sess, client, StatusError)
		}
	}()

	zap.S().Infof("[%s] session starting", id)
	return nil
}

// Teardown detaches and closes the client of id, keeping the slot.
// It is a no-op for unknown ids or slots without a client.
func (m *Manager) Teardown(id string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.teardownLocked(id)
}

func (m *Manager) teardownLocked(id string) {
	m.mu.Lock()
	var old whatsapp.Client
	if sess, ok := m.sessions[id]; ok {
		old = sess.client
		sess.client = nil
	}
	m.mu.Unlock()

	closeClient(id, old)
}

// teardownClient closes client only if it is still the current one for id.
func (m *Manager) teardownClient(id string, client whatsapp.Client) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.client != client {
		m.mu.Unlock()
		return
	}
	sess.client = nil
	m.mu.Unlock()

	closeClient(id, client)
}

func closeClient(id string, client whatsapp.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		zap.S().Warnf("[%s] teardown: %v", id, err)
	}
}

// Remove tears down id and forgets it. It reports whether id existed.
func (m *Manager) Remove(id string) bool {
	m.opMu.Lock()
	m.mu.Lock()
	_, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		m.opMu.Unlock()
		return false
	}

	m.teardownLocked(id)
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.opMu.Unlock()

	zap.S().Infof("[%s] session removed", id)
	m.broadcastList()
	return true
}

// Restart tears id down now and starts it again after RestartDelay, if it
// is still registered by then.
func (m *Manager) Restart(id string) bool {
	m.opMu.Lock()
	if !m.has(id) {
		m.opMu.Unlock()
		return false
	}
	m.teardownLocked(id)
	m.opMu.Unlock()

	zap.S().Infof("[%s] restarting in %v", id, m.opts.RestartDelay)
	m.startAfter(id, m.opts.RestartDelay)
	return true
}

// RestartAll restarts every registered device.
func (m *Manager) RestartAll() {
	for _, d := range m.List() {
		m.Restart(d.ID)
	}
}

// HardReset tears id down, deletes its stored credentials and starts it
// again after HardResetDelay, forcing a fresh QR pairing.
func (m *Manager) HardReset(id string) bool {
	m.opMu.Lock()
	if !m.has(id) {
		m.opMu.Unlock()
		return false
	}
	m.teardownLocked(id)
	if err := m.provider.DeleteCredentials(id); err != nil {
		zap.S().Errorf("[%s] failed to delete credentials: %v", id, err)
	}
	m.opMu.Unlock()

	zap.S().Infof("[%s] credentials cleared, starting in %v", id, m.opts.HardResetDelay)
	m.startAfter(id, m.opts.HardResetDelay)
	return true
}

func (m *Manager) startAfter(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		m.opMu.Lock()
		defer m.opMu.Unlock()

		if !m.has(id) {
			zap.S().Debugf("[%s] delayed start skipped, device removed", id)
			return
		}
		if err := m.startLocked(id); err != nil && !errors.Is(err, ErrClosed) {
			zap.S().Errorf("[%s] delayed start: %v", id, err)
		}
	})
}

// RequestQR returns the cached QR for id. Without one the device is
// restarted so a new code is generated. found is false for unknown ids.
func (m *Manager) RequestQR(id string) (qr QRCode, cached, found bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return QRCode{}, false, false
	}
	if sess.lastQR != "" {
		qr = QRCode{ClientID: id, QR: sess.lastQR, Image: sess.lastQRImage}
		m.mu.Unlock()
		return qr, true, true
	}
	m.mu.Unlock()

	if err := m.Start(id); err != nil {
		zap.S().Errorf("[%s] restart for QR: %v", id, err)
	}
	return QRCode{}, false, true
}

// Send sends a text message from a connected device.
func (m *Manager) Send(ctx context.Context, id, to, text string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	client := sess.client
	status := sess.status
	m.mu.Unlock()

	if client == nil || status != StatusConnected {
		return ErrNotConnected
	}
	return client.SendMessage(ctx, to, text)
}

// List returns every device with its status, sorted by id.
func (m *Manager) List() []DeviceInfo {
	m.mu.Lock()
	out := make([]DeviceInfo, 0, len(m.sessions))
	for id, sess := range m.sessions {
		out = append(out, DeviceInfo{ID: id, Status: sess.status})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status returns the current status of id.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return "", false
	}
	return sess.status, true
}

// Close tears down every client. The manager refuses new starts afterwards.
func (m *Manager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.closed = true
	clients := make(map[string]whatsapp.Client)
	for id, sess := range m.sessions {
		if sess.client != nil {
			clients[id] = sess.client
			sess.client = nil
		}
	}
	m.mu.Unlock()

	for id, c := range clients {
		closeClient(id, c)
	}
}

func (m *Manager) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// current reports whether client is still the live client of sess. A nil
// client matches the window before a new client is installed. Must hold mu.
func (m *Manager) current(sess *Session, client whatsapp.Client) bool {
	return m.sessions[sess.id] == sess && sess.client == client
}

func (m *Manager) transition(sess *Session, client whatsapp.Client, status Status) bool {
	m.mu.Lock()
	if !m.current(sess, client) {
		m.mu.Unlock()
		return false
	}
	sess.status = status
	m.mu.Unlock()

	m.broadcastStatus(sess.id, status)
	return true
}

func (m *Manager) handleEvent(sess *Session, client whatsapp.Client, evt whatsapp.Event) {
	id := sess.id

	switch evt.Kind {
	case whatsapp.EventQR:
		m.mu.Lock()
		if !m.current(sess, client) {
			m.mu.Unlock()
			return
		}
		sess.status = StatusQRRequired
		sess.lastQR = evt.QR
		sess.lastQRImage = evt.QRImage
		m.mu.Unlock()

		zap.S().Infof("[%s] QR code received", id)
		m.broadcastStatus(id, StatusQRRequired)
		m.broadcast(notify.EventQRCode, QRCode{ClientID: id, QR: evt.QR, Image: evt.QRImage})

	case whatsapp.EventAuthenticated:
		m.mu.Lock()
		if !m.current(sess, client) {
			m.mu.Unlock()
			return
		}
		sess.status = StatusAuthenticated
		sess.lastQR = ""
		sess.lastQRImage = ""
		m.mu.Unlock()

		zap.S().Infof("[%s] authenticated", id)
		m.broadcastStatus(id, StatusAuthenticated)

	case whatsapp.EventReady:
		now := m.now()
		m.mu.Lock()
		if !m.current(sess, client) {
			m.mu.Unlock()
			return
		}
		sess.status = StatusConnected
		sess.connectedAt = &now
		m.mu.Unlock()

		zap.S().Infof("[%s] connected", id)
		m.broadcastStatus(id, StatusConnected)

	case whatsapp.EventAuthFailure:
		if m.transition(sess, client, StatusAuthFailed) {
			zap.S().Warnf("[%s] authentication failed: %s", id, evt.Reason)
		}

	case whatsapp.EventError:
		if m.transition(sess, client, StatusError) {
			zap.S().Errorf("[%s] client error: %s", id, evt.Reason)
		}

	case whatsapp.EventDisconnected:
		m.mu.Lock()
		if !m.current(sess, client) {
			m.mu.Unlock()
			return
		}
		sess.status = StatusDisconnected
		sess.connectedAt = nil
		m.mu.Unlock()

		zap.S().Warnf("[%s] disconnected: %s", id, evt.Reason)
		m.broadcastStatus(id, StatusDisconnected)
		go m.teardownClient(id, client)

	case whatsapp.EventMessage:
		m.onMessage(sess, client, evt.Message)
	}
}

func (m *Manager) routable(msg *whatsapp.Message) bool {
	switch msg.Origin {
	case whatsapp.OriginIndividual:
		return true
	case whatsapp.OriginGroup:
		return m.opts.RouteGroups
	default:
		return false
	}
}

func (m *Manager) onMessage(sess *Session, client whatsapp.Client, msg *whatsapp.Message) {
	if msg == nil || !m.routable(msg) {
		return
	}

	m.mu.Lock()
	if !m.current(sess, client) {
		m.mu.Unlock()
		return
	}
	sess.messages++
	sess.senders[msg.From] = struct{}{}
	m.mu.Unlock()

	m.broadcast(notify.EventNewMessage, NewMessage{
		ClientID: sess.id,
		Message: MessageView{
			From:      msg.From,
			Body:      msg.Body,
			Timestamp: m.now().UnixMilli(),
		},
	})

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(msg, client, sess.id)
	}
}

func (m *Manager) broadcast(event string, payload any) {
	if m.bus != nil {
		m.bus.Broadcast(event, payload)
	}
}

func (m *Manager) broadcastStatus(id string, status Status) {
	m.broadcast(notify.EventStatusChange, StatusChange{ClientID: id, Status: status})
}

func (m *Manager) broadcastList() {
	m.broadcast(notify.EventClientList, m.List())
}
