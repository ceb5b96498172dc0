package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/whatsapp-automation/botdesk/internal/convlog"
	"github.com/whatsapp-automation/botdesk/internal/logic"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

const defaultInvalid = "Opção inválida. Por favor, escolha uma das opções abaixo."

// MenuConfig is the "menu" section of a definition.
type MenuConfig struct {
	Welcome       string                 `mapstructure:"welcome"`
	Start         string                 `mapstructure:"start"`
	Invalid       string                 `mapstructure:"invalid"`
	ResetKeywords []string               `mapstructure:"reset_keywords"`
	AcceptGroups  bool                   `mapstructure:"accept_groups"`
	Stages        map[string]StageConfig `mapstructure:"stages"`
}

// StageConfig is one step of the menu. A stage either offers options,
// collects a free-text field, hands the chat off to a human, or ends the
// conversation after sending its prompt.
type StageConfig struct {
	Prompt  string                `mapstructure:"prompt"`
	Options map[string]Transition `mapstructure:"options"`
	Field   string                `mapstructure:"field"`
	Reply   string                `mapstructure:"reply"`
	Next    string                `mapstructure:"next"`
	Invalid string                `mapstructure:"invalid"`
	Handoff bool                  `mapstructure:"handoff"`
}

// Transition is the outcome of picking an option.
type Transition struct {
	Reply string `mapstructure:"reply"`
	Next  string `mapstructure:"next"`
}

type menuState struct {
	stage string
	data  map[string]string
}

// Menu is a declarative stage machine with one state per chat participant.
type Menu struct {
	cfg   MenuConfig
	log   transcript
	reset map[string]bool

	mu     sync.Mutex
	states map[string]*menuState
}

// NewMenu builds a Menu from a "menu" section.
func NewMenu(env logic.Env, section map[string]any) (logic.Handler, error) {
	var cfg MenuConfig
	if err := decode(section, &cfg); err != nil {
		return nil, err
	}
	if err := validateMenu(&cfg); err != nil {
		return nil, err
	}

	m := &Menu{
		cfg:    cfg,
		log:    transcript{name: env.Name, w: env.Transcript},
		reset:  make(map[string]bool),
		states: make(map[string]*menuState),
	}
	for _, kw := range cfg.ResetKeywords {
		m.reset[strings.ToLower(strings.TrimSpace(kw))] = true
	}
	return m, nil
}

func validateMenu(cfg *MenuConfig) error {
	if len(cfg.Stages) == 0 {
		return fmt.Errorf("menu has no stages")
	}
	if cfg.Start == "" {
		return fmt.Errorf("menu has no start stage")
	}
	if _, ok := cfg.Stages[cfg.Start]; !ok {
		return fmt.Errorf("start stage %q not defined", cfg.Start)
	}

	for name, st := range cfg.Stages {
		if len(st.Options) > 0 && st.Field != "" {
			return fmt.Errorf("stage %q has both options and a field", name)
		}
		if st.Next != "" {
			if _, ok := cfg.Stages[st.Next]; !ok {
				return fmt.Errorf("stage %q: next stage %q not defined", name, st.Next)
			}
		}
		options := make(map[string]Transition, len(st.Options))
		for key, tr := range st.Options {
			if tr.Next != "" {
				if _, ok := cfg.Stages[tr.Next]; !ok {
					return fmt.Errorf("stage %q option %q: next stage %q not defined", name, key, tr.Next)
				}
			}
			options[strings.ToLower(strings.TrimSpace(key))] = tr
		}
		st.Options = options
		cfg.Stages[name] = st
	}
	return nil
}

func (m *Menu) HandleMessage(ctx context.Context, msg *whatsapp.Message, client whatsapp.Sender, deviceID string) error {
	if !accepts(msg, m.cfg.AcceptGroups) {
		return nil
	}

	m.log.write(deviceID, participant(msg), convlog.RoleClient, msg.Body)

	text := strings.TrimSpace(msg.Body)
	key := deviceID + "|" + msg.From + "|" + msg.Author

	m.mu.Lock()
	st, ok := m.states[key]
	var out []string
	if !ok || m.reset[strings.ToLower(text)] {
		st = &menuState{data: map[string]string{}}
		if msg.PushName != "" {
			st.data["name"] = msg.PushName
		}
		m.states[key] = st
		out = m.enter(key, st, m.cfg.Start, m.cfg.Welcome)
	} else {
		out = m.advance(key, st, text)
	}
	m.mu.Unlock()

	for _, reply := range out {
		if err := m.log.reply(ctx, client, msg, deviceID, reply); err != nil {
			return err
		}
	}
	return nil
}

// enter moves st to stage, returning the lead text joined with the stage
// prompt. Terminal stages drop the state. Must hold m.mu.
func (m *Menu) enter(key string, st *menuState, stage, lead string) []string {
	st.stage = stage
	cfg := m.cfg.Stages[stage]

	if len(cfg.Options) == 0 && cfg.Field == "" && !cfg.Handoff {
		delete(m.states, key)
	}
	return joined(expand(lead, st.data), expand(cfg.Prompt, st.data))
}

// advance handles a reply to the current stage. Must hold m.mu.
func (m *Menu) advance(key string, st *menuState, text string) []string {
	cfg := m.cfg.Stages[st.stage]

	switch {
	case cfg.Handoff:
		return nil

	case len(cfg.Options) > 0:
		tr, ok := cfg.Options[strings.ToLower(text)]
		if !ok {
			invalid := cfg.Invalid
			if invalid == "" {
				invalid = m.cfg.Invalid
			}
			if invalid == "" {
				invalid = defaultInvalid
			}
			return joined(expand(invalid, st.data), expand(cfg.Prompt, st.data))
		}
		return m.transition(key, st, tr.Reply, tr.Next)

	case cfg.Field != "":
		st.data[cfg.Field] = text
		return m.transition(key, st, cfg.Reply, cfg.Next)
	}

	delete(m.states, key)
	return nil
}

func (m *Menu) transition(key string, st *menuState, reply, next string) []string {
	if next == "" {
		delete(m.states, key)
		return joined(expand(reply, st.data))
	}
	return m.enter(key, st, next, reply)
}

// Stage returns the current stage for a chat, for inspection.
func (m *Menu) Stage(deviceID, from, author string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[deviceID+"|"+from+"|"+author]
	if !ok {
		return "", false
	}
	return st.stage, true
}

func joined(parts ...string) []string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}
	return []string{strings.Join(nonEmpty, "\n\n")}
}
