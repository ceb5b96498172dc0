package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/whatsapp-automation/botdesk/internal/config"
	"github.com/whatsapp-automation/botdesk/internal/logging"
)

// ProviderOptions configures how device clients are built.
type ProviderOptions struct {
	SessionsDir string
	QRCodeDir   string // optional PNG dump of the latest QR per device
	OSName      string // shown in the phone's linked devices list
	Proxy       *config.ProxyConfig
}

// Provider builds whatsmeow-backed clients, one credential database per device.
type Provider struct {
	store *CredentialStore
	opts  ProviderOptions
}

// NewProvider prepares the sessions directory and the global device properties.
func NewProvider(opts ProviderOptions) (*Provider, error) {
	cs, err := NewCredentialStore(opts.SessionsDir)
	if err != nil {
		return nil, err
	}

	if opts.OSName != "" {
		store.DeviceProps.Os = proto.String(opts.OSName)
	}
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()

	return &Provider{store: cs, opts: opts}, nil
}

// Store exposes the credential store.
func (p *Provider) Store() *CredentialStore {
	return p.store
}

// NewClient opens the device's credential database and wraps a new
// whatsmeow client around it. Nothing is dialled until Connect.
func (p *Provider) NewClient(ctx context.Context, deviceID string) (Client, error) {
	container, device, err := p.store.Open(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	cli := whatsmeow.NewClient(device, logging.WaLogger("Client-"+deviceID))
	// A dropped connection is handled by tearing the session down.
	cli.EnableAutoReconnect = false
	cli.AutoTrustIdentity = true

	if proxyURL := p.opts.Proxy.URL(); proxyURL != "" {
		if err := cli.SetProxyAddress(proxyURL); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to set proxy address: %w", err)
		}
		zap.S().Infof("[%s] using proxy %s", deviceID, p.opts.Proxy.String())
	}

	c := &meowClient{
		deviceID:  deviceID,
		cli:       cli,
		container: container,
		qrDir:     p.opts.QRCodeDir,
	}
	c.handlerID = cli.AddEventHandler(c.handleEvent)
	return c, nil
}

// DeleteCredentials removes the device's stored pairing.
func (p *Provider) DeleteCredentials(deviceID string) error {
	return p.store.Delete(deviceID)
}

// StoredDevices lists devices that have credentials on disk.
func (p *Provider) StoredDevices() ([]string, error) {
	return p.store.Devices()
}

type meowClient struct {
	deviceID  string
	cli       *whatsmeow.Client
	container *sqlstore.Container
	qrDir     string
	handlerID uint32

	mu            sync.Mutex
	handler       EventHandler
	authenticated bool
	closed        bool
	cancelQR      context.CancelFunc
}

func (c *meowClient) SetEventHandler(h EventHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *meowClient) emit(evt Event) {
	c.mu.Lock()
	h := c.handler
	closed := c.closed
	c.mu.Unlock()

	if h != nil && !closed {
		h(evt)
	}
}

// Connect dials WhatsApp. Unpaired devices get a QR channel first.
func (c *meowClient) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client closed")
	}
	c.mu.Unlock()

	if c.cli.Store.ID == nil {
		ctx, cancel := context.WithCancel(context.Background())
		qrChan, err := c.cli.GetQRChannel(ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			cancel()
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err == nil {
			c.mu.Lock()
			c.cancelQR = cancel
			c.mu.Unlock()
			go c.watchQR(qrChan)
		} else {
			cancel()
		}
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *meowClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			image, err := QRDataURL(item.Code)
			if err != nil {
				zap.S().Warnf("[%s] failed to render QR: %v", c.deviceID, err)
			}
			if c.qrDir != "" {
				if path, err := writeQRImage(c.qrDir, c.deviceID, item.Code); err != nil {
					zap.S().Warnf("[%s] failed to save QR image: %v", c.deviceID, err)
				} else {
					zap.S().Debugf("[%s] QR image saved to %s", c.deviceID, path)
				}
			}
			c.emit(Event{Kind: EventQR, QR: item.Code, QRImage: image})
		case "success":
			c.markAuthenticated()
		case "timeout":
			c.emit(Event{Kind: EventAuthFailure, Reason: "QR code timeout"})
		case "error":
			c.emit(Event{Kind: EventError, Reason: fmt.Sprint(item.Error)})
		default:
			c.emit(Event{Kind: EventAuthFailure, Reason: item.Event})
		}
	}
}

func (c *meowClient) markAuthenticated() {
	c.mu.Lock()
	first := !c.authenticated
	c.authenticated = true
	c.mu.Unlock()

	if first {
		c.emit(Event{Kind: EventAuthenticated})
	}
}

// handleEvent translates whatsmeow events into client events.
func (c *meowClient) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		zap.S().Infof("[%s] paired as %s", c.deviceID, v.ID.String())
		c.markAuthenticated()

	case *events.Connected:
		c.markAuthenticated()
		c.emit(Event{Kind: EventReady})

	case *events.LoggedOut:
		c.emit(Event{Kind: EventAuthFailure, Reason: fmt.Sprintf("logged out: %v", v.Reason)})

	case *events.TemporaryBan:
		c.emit(Event{Kind: EventAuthFailure, Reason: v.String()})

	case *events.ClientOutdated:
		c.emit(Event{Kind: EventAuthFailure, Reason: "client outdated"})

	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			c.emit(Event{Kind: EventAuthFailure, Reason: v.Reason.String()})
			return
		}
		c.emit(Event{Kind: EventError, Reason: fmt.Sprintf("connect failure: %v %s", v.Reason, v.Message)})

	case *events.StreamReplaced:
		c.emit(Event{Kind: EventDisconnected, Reason: "stream replaced"})

	case *events.Disconnected:
		c.emit(Event{Kind: EventDisconnected, Reason: "connection lost"})

	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		c.emit(Event{Kind: EventMessage, Message: messageFromEvent(v)})
	}
}

// SendMessage sends a plain text message to a user or group address.
func (c *meowClient) SendMessage(ctx context.Context, to, text string) error {
	jid, err := ParseAddress(to)
	if err != nil {
		return err
	}

	_, err = c.cli.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close detaches the event handler, disconnects and closes the database.
func (c *meowClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.handler = nil
	cancel := c.cancelQR
	c.mu.Unlock()

	c.cli.RemoveEventHandler(c.handlerID)
	if cancel != nil {
		cancel()
	}
	c.cli.Disconnect()

	if err := c.container.Close(); err != nil {
		return fmt.Errorf("failed to close session database: %w", err)
	}
	return nil
}
