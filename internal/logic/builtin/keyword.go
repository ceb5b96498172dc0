package builtin

import (
	"context"
	"fmt"
	"regexp"

	"github.com/whatsapp-automation/botdesk/internal/convlog"
	"github.com/whatsapp-automation/botdesk/internal/logic"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

// KeywordConfig is the "keyword" section of a definition.
type KeywordConfig struct {
	AcceptGroups bool          `mapstructure:"accept_groups"`
	Rules        []KeywordRule `mapstructure:"rules"`
}

// KeywordRule replies with Reply when Match (a case-insensitive regexp)
// matches the message body.
type KeywordRule struct {
	Match string `mapstructure:"match"`
	Reply string `mapstructure:"reply"`
}

type compiledRule struct {
	re    *regexp.Regexp
	reply string
}

// Keyword answers the first matching rule and stays silent otherwise.
type Keyword struct {
	acceptGroups bool
	rules        []compiledRule
	log          transcript
}

// NewKeyword builds a Keyword handler from a "keyword" section.
func NewKeyword(env logic.Env, section map[string]any) (logic.Handler, error) {
	var cfg KeywordConfig
	if err := decode(section, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("keyword handler has no rules")
	}

	k := &Keyword{
		acceptGroups: cfg.AcceptGroups,
		log:          transcript{name: env.Name, w: env.Transcript},
	}
	for i, r := range cfg.Rules {
		re, err := regexp.Compile("(?i)" + r.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if r.Reply == "" {
			return nil, fmt.Errorf("rule %d: empty reply", i)
		}
		k.rules = append(k.rules, compiledRule{re: re, reply: r.Reply})
	}
	return k, nil
}

func (k *Keyword) HandleMessage(ctx context.Context, msg *whatsapp.Message, client whatsapp.Sender, deviceID string) error {
	if !accepts(msg, k.acceptGroups) {
		return nil
	}

	for _, r := range k.rules {
		if !r.re.MatchString(msg.Body) {
			continue
		}
		k.log.write(deviceID, participant(msg), convlog.RoleClient, msg.Body)
		return k.log.reply(ctx, client, msg, deviceID, expand(r.reply, map[string]string{"name": msg.PushName}))
	}
	return nil
}
