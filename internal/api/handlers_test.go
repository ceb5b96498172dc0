package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/botdesk/internal/session"
)

type fakeDevices struct {
	sendErr error
	sent    []SendRequest
}

func (d *fakeDevices) List() []session.DeviceInfo {
	return []session.DeviceInfo{
		{ID: "loja-1", Status: session.StatusConnected},
		{ID: "loja-2", Status: session.StatusQRRequired},
	}
}

func (d *fakeDevices) Snapshot() map[string]session.Stats {
	return map[string]session.Stats{"loja-1": {MessagesToday: 4, ActiveUsers: 2}}
}

func (d *fakeDevices) Send(ctx context.Context, id, to, text string) error {
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, SendRequest{DeviceID: id, To: to, Message: text})
	return nil
}

type fakeLogics []string

func (l fakeLogics) Names() []string { return l }

type staticAuth struct{}

func (staticAuth) Verify(u, p string) bool { return u == "admin1" && p == "suporte@1" }

func newTestRouter(t *testing.T, devices *fakeDevices, publicDir string) *mux.Router {
	t.Helper()
	srv := NewServer(Options{
		Devices:   devices,
		Logics:    fakeLogics{"atendimento"},
		Auth:      staticAuth{},
		Realtime:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		PublicDir: publicDir,
		Version:   "test",
	})
	r := mux.NewRouter()
	r.Use(LoggingMiddleware)
	srv.RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth("admin1", "suporte@1")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsOpen(t *testing.T) {
	r := newTestRouter(t, &fakeDevices{}, "")

	rec := do(r, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["healthy"])
	assert.EqualValues(t, 2, body["devices"])
	assert.EqualValues(t, 1, body["connected"])
}

func TestStatusRequiresAuth(t *testing.T) {
	r := newTestRouter(t, &fakeDevices{}, "")

	rec := do(r, http.MethodGet, "/status", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(r, http.MethodGet, "/status", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Devices []session.DeviceInfo     `json:"devices"`
		Stats   map[string]session.Stats `json:"stats"`
		Logics  []string                 `json:"logics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Devices, 2)
	assert.Equal(t, 4, body.Stats["loja-1"].MessagesToday)
	assert.Equal(t, []string{"atendimento"}, body.Logics)
}

func TestSend(t *testing.T) {
	devices := &fakeDevices{}
	r := newTestRouter(t, devices, "")

	rec := do(r, http.MethodPost, "/send", `{"device_id":"loja-1","to":"5511999","message":"oi"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(r, http.MethodPost, "/send", `{bad`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/send", `{"device_id":"loja-1","to":"","message":"oi"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/send", `{"device_id":"loja/1","to":"5511999","message":"oi"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/send", `{"device_id":"loja-1","to":"abc","message":"oi"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/send", `{"device_id":"loja-1","to":"5511999@c.us","message":"oi"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []SendRequest{{DeviceID: "loja-1", To: "5511999@c.us", Message: "oi"}}, devices.sent)
}

func TestSendErrors(t *testing.T) {
	cases := map[error]int{
		session.ErrNotFound:      http.StatusNotFound,
		session.ErrNotConnected:  http.StatusConflict,
		errors.New("stream end"): http.StatusInternalServerError,
	}
	for err, code := range cases {
		r := newTestRouter(t, &fakeDevices{sendErr: err}, "")
		rec := do(r, http.MethodPost, "/send", `{"device_id":"loja-1","to":"5511999","message":"oi"}`, true)
		assert.Equal(t, code, rec.Code, err.Error())
	}
}

func TestRealtimeAndStaticRoutes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>painel</h1>"), 0644))
	r := newTestRouter(t, &fakeDevices{}, dir)

	rec := do(r, http.MethodGet, "/ws", "", false)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = do(r, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "painel")
}

func TestMissingPublicDirIsSkipped(t *testing.T) {
	r := newTestRouter(t, &fakeDevices{}, filepath.Join(t.TempDir(), "absent"))

	rec := do(r, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
