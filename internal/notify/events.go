package notify

// Dashboard event names. Requests flow client to server, the rest are pushed.
const (
	// requests
	EventAuthenticate      = "authenticate"
	EventGetClientList     = "get_client_list"
	EventAddClient         = "add_client"
	EventRemoveClient      = "remove_client"
	EventRestartClient     = "restart_client"
	EventRestartAllClients = "restart_all_clients"
	EventHardResetClient   = "hard_reset_client"
	EventGenerateQR        = "generate_qr"
	EventGetLogContent     = "get_log_content"
	EventGetLogicsList     = "get_logics_list"
	EventReloadLogics      = "reload_logics"
	EventAddLogic          = "add_logic"
	EventRemoveLogic       = "remove_logic"

	// replies and pushes
	EventAuthenticated = "authenticated"
	EventUnauthorized  = "unauthorized"
	EventClientList    = "client_list"
	EventQRCode        = "qr_code"
	EventStatusChange  = "status_change"
	EventNewMessage    = "new_message"
	EventUpdateStats   = "update_stats"
	EventLogContent    = "log_content"
	EventLogicsList    = "logics_list"
	EventLogicResult   = "logic_result"
	EventRequestError  = "request_error"
)

// Broadcasts lists the events fanned out to every dashboard.
var Broadcasts = []string{
	EventClientList,
	EventQRCode,
	EventStatusChange,
	EventNewMessage,
	EventUpdateStats,
	EventLogicsList,
}
