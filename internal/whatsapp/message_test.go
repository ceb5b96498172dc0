package whatsapp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestAddress(t *testing.T) {
	assert.Equal(t, "5511999990000@c.us", Address(types.NewJID("5511999990000", types.DefaultUserServer)))
	assert.Equal(t, "12036304@g.us", Address(types.NewJID("12036304", types.GroupServer)))
	assert.Equal(t, StatusBroadcast, Address(types.StatusBroadcastJID))
}

func TestParseAddress(t *testing.T) {
	jid, err := ParseAddress("5511999990000@c.us")
	require.NoError(t, err)
	assert.Equal(t, types.NewJID("5511999990000", types.DefaultUserServer), jid)

	jid, err = ParseAddress("12036304@g.us")
	require.NoError(t, err)
	assert.Equal(t, types.GroupServer, jid.Server)

	jid, err = ParseAddress("+5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", jid.User)

	_, err = ParseAddress("")
	assert.Error(t, err)
	_, err = ParseAddress("not a number")
	assert.Error(t, err)
}

func TestMessageFromEventText(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("5511999990000", types.DefaultUserServer),
				Sender: types.NewJID("5511999990000", types.DefaultUserServer),
			},
			ID:        "3EB0ABC",
			PushName:  "Maria",
			Timestamp: ts,
		},
		Message: &waE2E.Message{Conversation: proto.String("oi")},
	}

	msg := messageFromEvent(evt)
	require.NotNil(t, msg)
	assert.Equal(t, "3EB0ABC", msg.ID)
	assert.Equal(t, "5511999990000@c.us", msg.From)
	assert.Equal(t, "oi", msg.Body)
	assert.Equal(t, "chat", msg.Kind)
	assert.True(t, msg.IsText())
	assert.Equal(t, OriginIndividual, msg.Origin)
	assert.Empty(t, msg.Author)
	assert.Equal(t, "Maria", msg.PushName)
	assert.Equal(t, ts, msg.Timestamp)
}

func TestMessageFromEventGroupAndBroadcast(t *testing.T) {
	group := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    types.NewJID("12036304", types.GroupServer),
				Sender:  types.NewJID("5511888880000", types.DefaultUserServer),
				IsGroup: true,
			},
		},
		Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hello all")}},
	}
	msg := messageFromEvent(group)
	assert.Equal(t, OriginGroup, msg.Origin)
	assert.Equal(t, "12036304@g.us", msg.From)
	assert.Equal(t, "5511888880000@c.us", msg.Author)
	assert.Equal(t, "hello all", msg.Body)

	status := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: types.StatusBroadcastJID},
		},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("story")}},
	}
	msg = messageFromEvent(status)
	assert.Equal(t, OriginBroadcast, msg.Origin)
	assert.Equal(t, "image", msg.Kind)
	assert.Equal(t, "story", msg.Body)
	assert.False(t, msg.IsText())
}

func TestContentOf(t *testing.T) {
	kind, _ := contentOf(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{PTT: proto.Bool(true)}})
	assert.Equal(t, "ptt", kind)

	kind, _ = contentOf(&waE2E.Message{StickerMessage: &waE2E.StickerMessage{}})
	assert.Equal(t, "sticker", kind)

	kind, body := contentOf(nil)
	assert.Equal(t, "unknown", kind)
	assert.Empty(t, body)
}

func TestQRDataURL(t *testing.T) {
	url, err := QRDataURL("2@abc,def,ghi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestMessageFromEventLIDChat(t *testing.T) {
	lid := types.NewJID("123456789", types.HiddenUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:           lid,
				Sender:         lid,
				AddressingMode: types.AddressingModeLID,
				SenderAlt:      types.JID{User: "5511999990000", Server: types.DefaultUserServer, Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("oi")},
	}

	msg := messageFromEvent(evt)
	assert.Equal(t, "5511999990000@c.us", msg.From)
	assert.Equal(t, OriginIndividual, msg.Origin)

	// no phone number known: not addressable, not individual
	evt.Info.SenderAlt = types.EmptyJID
	msg = messageFromEvent(evt)
	assert.Equal(t, "123456789@lid", msg.From)
	assert.Equal(t, OriginHidden, msg.Origin)
}
