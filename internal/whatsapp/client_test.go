package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func recordingClient() (*meowClient, *[]Event) {
	var got []Event
	c := &meowClient{deviceID: "loja-1"}
	c.SetEventHandler(func(evt Event) { got = append(got, evt) })
	return c, &got
}

func kinds(evts []Event) []EventKind {
	out := make([]EventKind, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Kind)
	}
	return out
}

func TestHandleEventPairingAndConnect(t *testing.T) {
	c, got := recordingClient()

	c.handleEvent(&events.PairSuccess{ID: types.NewJID("5511999990000", types.DefaultUserServer)})
	c.handleEvent(&events.Connected{})
	c.handleEvent(&events.Connected{})

	// authenticated fires once, ready on every connect
	assert.Equal(t, []EventKind{EventAuthenticated, EventReady, EventReady}, kinds(*got))
}

func TestHandleEventConnectedWithoutPairing(t *testing.T) {
	c, got := recordingClient()

	c.handleEvent(&events.Connected{})
	assert.Equal(t, []EventKind{EventAuthenticated, EventReady}, kinds(*got))
}

func TestHandleEventFailures(t *testing.T) {
	cases := []struct {
		name string
		evt  interface{}
		want EventKind
	}{
		{"logged out", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, EventAuthFailure},
		{"temp ban", &events.TemporaryBan{}, EventAuthFailure},
		{"outdated", &events.ClientOutdated{}, EventAuthFailure},
		{"connect failure logged out", &events.ConnectFailure{Reason: events.ConnectFailureMainDeviceGone}, EventAuthFailure},
		{"connect failure other", &events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable}, EventError},
		{"stream replaced", &events.StreamReplaced{}, EventDisconnected},
		{"disconnected", &events.Disconnected{}, EventDisconnected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, got := recordingClient()
			c.handleEvent(tc.evt)
			require.Len(t, *got, 1)
			assert.Equal(t, tc.want, (*got)[0].Kind)
			assert.NotEmpty(t, (*got)[0].Reason)
		})
	}
}

func TestHandleEventMessages(t *testing.T) {
	c, got := recordingClient()
	user := types.NewJID("5511999990000", types.DefaultUserServer)

	c.handleEvent(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: user, Sender: user, IsFromMe: true},
			ID:            "own",
		},
		Message: &waE2E.Message{Conversation: proto.String("eco")},
	})
	assert.Empty(t, *got)

	c.handleEvent(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: user, Sender: user},
			ID:            "in",
		},
		Message: &waE2E.Message{Conversation: proto.String("oi")},
	})
	require.Len(t, *got, 1)
	assert.Equal(t, EventMessage, (*got)[0].Kind)
	assert.Equal(t, "in", (*got)[0].Message.ID)
	assert.Equal(t, "5511999990000@c.us", (*got)[0].Message.From)
}

func TestHandleEventAfterClose(t *testing.T) {
	c, got := recordingClient()
	c.closed = true

	c.handleEvent(&events.Disconnected{})
	assert.Empty(t, *got)
}

func TestHandleEventIgnoresOthers(t *testing.T) {
	c, got := recordingClient()

	c.handleEvent(&events.Receipt{})
	c.handleEvent(&events.HistorySync{})
	assert.Empty(t, *got)
}
