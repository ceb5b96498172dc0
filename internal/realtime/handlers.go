package realtime

import (
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/convlog"
	"github.com/whatsapp-automation/botdesk/internal/logic"
	"github.com/whatsapp-automation/botdesk/internal/notify"
	"github.com/whatsapp-automation/botdesk/internal/session"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type deviceRequest struct {
	DeviceID string `json:"deviceId"`
	ClientID string `json:"clientId"`
}

type logRequest struct {
	UserID   string `json:"userId"`
	ClientID string `json:"clientId"`
}

type logicRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Authenticated is the authenticated payload.
type Authenticated struct {
	Username string `json:"username"`
}

// LogContent is the log_content payload.
type LogContent struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// LogicResult is the logic_result payload.
type LogicResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RequestError reports a rejected request back to its sender.
type RequestError struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

const (
	msgInvalidUser    = "ID de usuário inválido."
	msgInvalidDevice  = "ID de dispositivo inválido."
	msgLogNotFound    = "Arquivo de log não encontrado. Verifique se a lógica está salvando os arquivos corretamente na pasta do dispositivo."
	msgInvalidName    = "Nome inválido."
	msgLogicSaved     = "Lógica salva!"
	msgLogicFailed    = "Erro ao carregar lógica."
	msgInvalidPayload = "dados inválidos"
	msgUnknownEvent   = "evento desconhecido"
)

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (h *Hub) handle(c *conn, env envelope) {
	log := h.log.With(zap.String("conn_id", c.id), zap.String("event", env.Event))

	if env.Event != notify.EventAuthenticate && !c.isAuthenticated() {
		log.Debug("request before authentication")
		c.emit(notify.EventUnauthorized, nil)
		return
	}

	reject := func(message string) {
		c.emit(notify.EventRequestError, RequestError{Event: env.Event, Message: message})
	}

	switch env.Event {
	case notify.EventAuthenticate:
		var req authRequest
		if err := decode(env.Data, &req); err != nil || !h.auth.Verify(req.Username, req.Password) {
			log.Warn("dashboard authentication failed", zap.String("username", req.Username))
			c.emit(notify.EventUnauthorized, nil)
			return
		}
		c.setAuthenticated(req.Username)
		log.Info("dashboard authenticated", zap.String("username", req.Username))
		c.emit(notify.EventAuthenticated, Authenticated{Username: req.Username})
		c.emit(notify.EventClientList, h.devices.List())
		c.emit(notify.EventLogicsList, h.logics.List())

	case notify.EventGetClientList:
		c.emit(notify.EventClientList, h.devices.List())

	case notify.EventAddClient:
		var req deviceRequest
		if err := decode(env.Data, &req); err != nil || !session.ValidDeviceID(req.DeviceID) {
			reject(msgInvalidDevice)
			return
		}
		added, err := h.devices.Add(req.DeviceID)
		if err != nil {
			log.Error("failed to add device", zap.String("device", req.DeviceID), zap.Error(err))
		} else if !added {
			log.Debug("device already registered", zap.String("device", req.DeviceID))
		}

	case notify.EventRemoveClient, notify.EventRestartClient, notify.EventHardResetClient, notify.EventGenerateQR:
		var req deviceRequest
		if err := decode(env.Data, &req); err != nil || !session.ValidDeviceID(req.ClientID) {
			reject(msgInvalidDevice)
			return
		}
		h.deviceCommand(c, env.Event, req.ClientID)

	case notify.EventRestartAllClients:
		h.devices.RestartAll()

	case notify.EventGetLogContent:
		var req logRequest
		if err := decode(env.Data, &req); err != nil {
			reject(msgInvalidPayload)
			return
		}
		c.emit(notify.EventLogContent, h.logContent(req))

	case notify.EventGetLogicsList:
		c.emit(notify.EventLogicsList, h.logics.List())

	case notify.EventReloadLogics:
		h.logics.LoadAll()

	case notify.EventAddLogic:
		var req logicRequest
		if err := decode(env.Data, &req); err != nil {
			reject(msgInvalidPayload)
			return
		}
		c.emit(notify.EventLogicResult, h.saveLogic(req))

	case notify.EventRemoveLogic:
		var req logicRequest
		if err := decode(env.Data, &req); err != nil || !logic.ValidName(req.Name) {
			reject(msgInvalidName)
			return
		}
		h.logics.Remove(req.Name)

	default:
		reject(msgUnknownEvent)
	}
}

func (h *Hub) deviceCommand(c *conn, event, id string) {
	var found bool
	switch event {
	case notify.EventRemoveClient:
		found = h.devices.Remove(id)
	case notify.EventRestartClient:
		found = h.devices.Restart(id)
	case notify.EventHardResetClient:
		found = h.devices.HardReset(id)
	case notify.EventGenerateQR:
		var (
			qr     session.QRCode
			cached bool
		)
		qr, cached, found = h.devices.RequestQR(id)
		if cached {
			c.emit(notify.EventQRCode, qr)
		}
	}
	if !found {
		h.log.Debug("command for unknown device", zap.String("event", event), zap.String("device", id))
	}
}

func (h *Hub) logContent(req logRequest) LogContent {
	if !strings.HasSuffix(req.UserID, whatsapp.UserSuffix) {
		return LogContent{Message: msgInvalidUser}
	}

	content, err := h.transcripts.Read(req.ClientID, req.UserID)
	switch {
	case err == nil:
		return LogContent{Success: true, Content: content}
	case errors.Is(err, convlog.ErrInvalidUser):
		return LogContent{Message: msgInvalidUser}
	case errors.Is(err, convlog.ErrInvalidDevice):
		return LogContent{Message: msgInvalidDevice}
	default:
		if !errors.Is(err, convlog.ErrNotFound) {
			h.log.Error("failed to read conversation log",
				zap.String("device", req.ClientID), zap.String("user", req.UserID), zap.Error(err))
		}
		return LogContent{Message: msgLogNotFound}
	}
}

func (h *Hub) saveLogic(req logicRequest) LogicResult {
	err := h.logics.Save(req.Name, req.Code)
	switch {
	case err == nil:
		return LogicResult{Success: true, Message: msgLogicSaved}
	case errors.Is(err, logic.ErrInvalidName):
		return LogicResult{Message: msgInvalidName}
	default:
		h.log.Warn("logic rejected", zap.String("handler", req.Name), zap.Error(err))
		return LogicResult{Message: msgLogicFailed}
	}
}
