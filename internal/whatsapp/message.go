package whatsapp

import (
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Address suffixes used by handlers and the conversation log.
const (
	UserSuffix      = "@c.us"
	GroupSuffix     = "@g.us"
	BroadcastSuffix = "@broadcast"
	StatusBroadcast = "status@broadcast"
)

// Origin tells where an inbound message came from.
type Origin string

const (
	OriginIndividual Origin = "individual"
	OriginGroup      Origin = "group"
	OriginBroadcast  Origin = "broadcast"
	// OriginHidden is a direct chat addressed by LID whose phone number is
	// unknown. It has no @c.us address and is never routed.
	OriginHidden Origin = "hidden"
)

// Message is an inbound message normalised for handlers.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`             // chat address: user, group or broadcast
	Author    string    `json:"author,omitempty"` // participant, for group messages
	Body      string    `json:"body"`
	Kind      string    `json:"type"` // chat, image, video, audio, ptt, document, sticker, location, vcard, reaction, unknown
	Origin    Origin    `json:"origin"`
	PushName  string    `json:"pushName,omitempty"`
	FromMe    bool      `json:"fromMe"`
	Timestamp time.Time `json:"timestamp"`
}

// IsText reports whether the message is a plain chat message.
func (m *Message) IsText() bool {
	return m.Kind == "chat"
}

// Address renders a JID in the <user>@c.us / <group>@g.us / status@broadcast form.
func Address(jid types.JID) string {
	switch jid.Server {
	case types.DefaultUserServer:
		return jid.User + UserSuffix
	case types.GroupServer:
		return jid.User + GroupSuffix
	case types.BroadcastServer:
		return jid.User + BroadcastSuffix
	default:
		return jid.ToNonAD().String()
	}
}

// ParseAddress is the inverse of Address. A bare phone number (optionally
// with a leading +) is treated as a user address.
func ParseAddress(addr string) (types.JID, error) {
	addr = strings.TrimSpace(addr)
	switch {
	case addr == "":
		return types.JID{}, fmt.Errorf("empty address")
	case strings.HasSuffix(addr, UserSuffix):
		return types.NewJID(strings.TrimSuffix(addr, UserSuffix), types.DefaultUserServer), nil
	case strings.HasSuffix(addr, GroupSuffix):
		return types.NewJID(strings.TrimSuffix(addr, GroupSuffix), types.GroupServer), nil
	case strings.Contains(addr, "@"):
		return types.ParseJID(addr)
	}

	phone := sanitizePhone(addr)
	if phone == "" {
		return types.JID{}, fmt.Errorf("invalid address %q", addr)
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

func sanitizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return ""
		}
		b.WriteRune(r)
	}
	return b.String()
}

func originOf(chat types.JID, isGroup bool) Origin {
	switch {
	case isGroup || chat.Server == types.GroupServer:
		return OriginGroup
	case chat.Server == types.BroadcastServer:
		return OriginBroadcast
	case chat.Server == types.HiddenUserServer:
		return OriginHidden
	default:
		return OriginIndividual
	}
}

// messageFromEvent converts a whatsmeow message event.
func messageFromEvent(evt *events.Message) *Message {
	if evt == nil {
		return nil
	}

	chat := chatOf(evt.Info.MessageSource)
	kind, body := contentOf(evt.Message)
	msg := &Message{
		ID:        evt.Info.ID,
		From:      Address(chat),
		Body:      body,
		Kind:      kind,
		Origin:    originOf(chat, evt.Info.IsGroup),
		PushName:  evt.Info.PushName,
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}
	if msg.Origin == OriginGroup {
		msg.Author = Address(evt.Info.Sender)
	}
	return msg
}

// chatOf maps a LID direct chat to the sender's phone number JID when
// whatsmeow knows it.
func chatOf(src types.MessageSource) types.JID {
	chat := src.Chat
	if chat.Server != types.HiddenUserServer || src.IsGroup {
		return chat
	}
	if src.SenderAlt.Server == types.DefaultUserServer {
		return src.SenderAlt.ToNonAD()
	}
	if src.Sender.Server == types.DefaultUserServer {
		return src.Sender.ToNonAD()
	}
	return chat
}

func contentOf(m *waE2E.Message) (kind, body string) {
	if m == nil {
		return "unknown", ""
	}

	switch {
	case m.Conversation != nil:
		return "chat", m.GetConversation()
	case m.ExtendedTextMessage != nil:
		return "chat", m.GetExtendedTextMessage().GetText()
	case m.ImageMessage != nil:
		return "image", m.GetImageMessage().GetCaption()
	case m.VideoMessage != nil:
		return "video", m.GetVideoMessage().GetCaption()
	case m.AudioMessage != nil:
		if m.GetAudioMessage().GetPTT() {
			return "ptt", ""
		}
		return "audio", ""
	case m.DocumentMessage != nil:
		return "document", m.GetDocumentMessage().GetCaption()
	case m.StickerMessage != nil:
		return "sticker", ""
	case m.LocationMessage != nil:
		return "location", m.GetLocationMessage().GetName()
	case m.ContactMessage != nil:
		return "vcard", m.GetContactMessage().GetVcard()
	case m.ReactionMessage != nil:
		return "reaction", m.GetReactionMessage().GetText()
	default:
		return "unknown", ""
	}
}
