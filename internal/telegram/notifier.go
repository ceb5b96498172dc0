package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/config"
	"github.com/whatsapp-automation/botdesk/internal/notify"
	"github.com/whatsapp-automation/botdesk/internal/session"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier handles Telegram notifications
type Notifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client

	mu   sync.Mutex
	down map[string]session.Status // devices alerted as down
}

// New returns a notifier for cfg, or nil when alerts are not configured.
func New(cfg config.TelegramConfig) *Notifier {
	if !cfg.Enabled() {
		return nil
	}
	return &Notifier{
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		down:    make(map[string]session.Status),
	}
}

// SendAlert sends a message to Telegram
func (n *Notifier) SendAlert(message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)

	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := n.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	zap.S().Debugf("[telegram] alert sent: %.50s", message)
	return nil
}

// Watch subscribes to device status changes on bus.
func (n *Notifier) Watch(bus *notify.Bus) error {
	return bus.Subscribe(notify.EventStatusChange, func(payload any) {
		if change, ok := payload.(session.StatusChange); ok {
			n.OnStatus(change)
		}
	})
}

// OnStatus alerts when a device goes down and when it comes back.
// Alerts are sent in the background.
func (n *Notifier) OnStatus(change session.StatusChange) {
	var msg string

	n.mu.Lock()
	prev, wasDown := n.down[change.ClientID]
	switch change.Status {
	case session.StatusDisconnected, session.StatusAuthFailed, session.StatusError:
		if !wasDown || prev != change.Status {
			n.down[change.ClientID] = change.Status
			msg = downMessage(change.ClientID, change.Status, time.Now())
		}
	case session.StatusConnected:
		if wasDown {
			delete(n.down, change.ClientID)
			msg = fmt.Sprintf(`✅ <b>RECONECTADO</b>

📱 Dispositivo: %s
⏰ Hora: %s`, change.ClientID, time.Now().Format("2006-01-02 15:04:05"))
		}
	}
	n.mu.Unlock()

	if msg == "" {
		return
	}
	go func() {
		if err := n.SendAlert(msg); err != nil {
			zap.S().Warnf("[telegram] failed to send alert for %s: %v", change.ClientID, err)
		}
	}()
}

func downMessage(id string, status session.Status, at time.Time) string {
	title := "DESCONECTADO"
	hint := "Reconecte pelo painel."
	switch status {
	case session.StatusAuthFailed:
		title = "FALHA DE AUTENTICAÇÃO"
		hint = "Faça o hard reset e leia o QR novamente."
	case session.StatusError:
		title = "ERRO"
		hint = "Verifique os logs do servidor."
	}

	return fmt.Sprintf(`⚠️ <b>%s</b>

📱 Dispositivo: %s
📝 %s
⏰ Hora: %s`, title, id, hint, at.Format("2006-01-02 15:04:05"))
}
