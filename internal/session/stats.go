package session

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/notify"
)

// Stats is one device entry of update_stats.
type Stats struct {
	MessagesToday int        `json:"messagesToday"`
	ActiveUsers   int        `json:"activeUsers"`
	ConnectedAt   *time.Time `json:"connectedAt"`
}

// Snapshot returns the counters of every registered device.
func (m *Manager) Snapshot() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Stats, len(m.sessions))
	for id, sess := range m.sessions {
		st := Stats{MessagesToday: sess.messages, ActiveUsers: len(sess.senders)}
		if sess.connectedAt != nil {
			t := *sess.connectedAt
			st.ConnectedAt = &t
		}
		out[id] = st
	}
	return out
}

// ResetCounters zeroes message counts and sender sets of every device.
func (m *Manager) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		sess.messages = 0
		sess.senders = make(map[string]struct{})
	}
}

// Aggregator pushes update_stats on a fixed interval.
type Aggregator struct {
	manager  *Manager
	bus      Broadcaster
	interval time.Duration

	sched    *cron.Cron
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewAggregator creates a stopped aggregator.
func NewAggregator(manager *Manager, bus Broadcaster, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Aggregator{manager: manager, bus: bus, interval: interval}
}

// EnableDailyReset schedules a counter reset at midnight in loc. It must
// be called before Start.
func (a *Aggregator) EnableDailyReset(loc *time.Location) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc("@midnight", func() {
		a.manager.ResetCounters()
		zap.S().Info("[stats] daily counters reset")
	}); err != nil {
		return err
	}
	a.sched = sched
	return nil
}

// Start begins periodic publishing.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return
	}
	a.stopChan = make(chan struct{})
	a.running = true
	if a.sched != nil {
		a.sched.Start()
	}

	go a.loop(a.stopChan)
	zap.S().Infof("[stats] publishing every %v", a.interval)
}

// Stop ends publishing.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	close(a.stopChan)
	a.running = false
	if a.sched != nil {
		a.sched.Stop()
	}
}

func (a *Aggregator) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.Publish()
		}
	}
}

// Publish broadcasts the current counters once.
func (a *Aggregator) Publish() {
	a.bus.Broadcast(notify.EventUpdateStats, a.manager.Snapshot())
}
