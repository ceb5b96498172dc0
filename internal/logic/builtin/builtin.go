// Package builtin holds the handler kinds that definition files can bind to.
package builtin

import (
	"context"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/convlog"
	"github.com/whatsapp-automation/botdesk/internal/logic"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

// RegisterAll adds every built-in kind to reg.
func RegisterAll(reg *logic.Registry) {
	reg.Register("menu", NewMenu)
	reg.Register("keyword", NewKeyword)
}

func decode(section map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(section)
}

// accepts filters out status broadcasts, non-text messages and, unless
// allowed, group chats.
func accepts(msg *whatsapp.Message, acceptGroups bool) bool {
	if msg == nil || !msg.IsText() || strings.TrimSpace(msg.Body) == "" {
		return false
	}
	switch msg.Origin {
	case whatsapp.OriginIndividual:
		return true
	case whatsapp.OriginGroup:
		return acceptGroups
	default:
		return false
	}
}

// participant is the user address a transcript line belongs to.
func participant(msg *whatsapp.Message) string {
	if msg.Origin == whatsapp.OriginGroup {
		return msg.Author
	}
	return msg.From
}

type transcript struct {
	name string
	w    *convlog.Writer
}

func (t transcript) write(deviceID, user, role, text string) {
	if t.w == nil {
		return
	}
	if err := t.w.Append(deviceID, user, role, text); err != nil {
		zap.S().Warnf("[%s] conversation log for %s/%s: %v", t.name, deviceID, user, err)
	}
}

// reply sends text to the chat and records it.
func (t transcript) reply(ctx context.Context, client whatsapp.Sender, msg *whatsapp.Message, deviceID, text string) error {
	if err := client.SendMessage(ctx, msg.From, text); err != nil {
		return err
	}
	t.write(deviceID, participant(msg), convlog.RoleBot, text)
	return nil
}

// expand replaces {key} placeholders with values from data.
func expand(text string, data map[string]string) string {
	if text == "" || len(data) == 0 {
		return text
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
