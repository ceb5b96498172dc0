package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/logic"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

// Source provides the handlers to dispatch to.
type Source interface {
	Snapshot() []logic.Entry
}

// Options tunes dispatch.
type Options struct {
	PoolSize       int
	HandlerTimeout time.Duration
}

// Router fans every inbound message out to all registered handlers.
// Messages are dispatched on a bounded goroutine pool; the handlers for one
// message run sequentially in registry order. Messages sharing a device and
// chat are delivered one at a time in arrival order.
type Router struct {
	source  Source
	pool    *ants.Pool
	timeout time.Duration
	log     *zap.Logger

	mu    sync.Mutex
	lanes map[string]*lane
}

// lane holds the pending deliveries of one device and chat. It is drained
// by at most one pool worker at a time.
type lane struct {
	pending []func()
}

// New creates a Router. Call Close to release the pool.
func New(source Source, opts Options) (*Router, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 64
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}

	log := zap.L().Named("router")
	pool, err := ants.NewPool(opts.PoolSize, ants.WithPanicHandler(func(p interface{}) {
		log.Error("dispatch job panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch pool: %w", err)
	}

	return &Router{
		source:  source,
		pool:    pool,
		timeout: opts.HandlerTimeout,
		log:     log,
		lanes:   make(map[string]*lane),
	}, nil
}

// Dispatch snapshots the registry, queues msg for delivery and returns.
// If the pool refuses the job the queue is drained inline.
func (r *Router) Dispatch(msg *whatsapp.Message, client whatsapp.Sender, deviceID string) {
	entries := r.source.Snapshot()
	job := func() {
		r.deliver(context.Background(), entries, msg, client, deviceID)
	}

	key := deviceID + "|" + msg.From
	r.mu.Lock()
	l, busy := r.lanes[key]
	if !busy {
		l = &lane{}
		r.lanes[key] = l
	}
	l.pending = append(l.pending, job)
	r.mu.Unlock()
	if busy {
		return
	}

	if err := r.pool.Submit(func() { r.drain(key, l) }); err != nil {
		r.log.Warn("dispatch pool rejected job, delivering inline",
			zap.String("device", deviceID), zap.Error(err))
		r.drain(key, l)
	}
}

// drain runs queued jobs of l until it is empty, then retires the lane.
func (r *Router) drain(key string, l *lane) {
	for {
		r.mu.Lock()
		if len(l.pending) == 0 {
			delete(r.lanes, key)
			r.mu.Unlock()
			return
		}
		job := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		r.mu.Unlock()

		job()
	}
}

// DispatchSync delivers msg to a snapshot of the registry taken now. It
// returns the number of handlers that failed.
func (r *Router) DispatchSync(ctx context.Context, msg *whatsapp.Message, client whatsapp.Sender, deviceID string) int {
	return r.deliver(ctx, r.source.Snapshot(), msg, client, deviceID)
}

func (r *Router) deliver(ctx context.Context, entries []logic.Entry, msg *whatsapp.Message, client whatsapp.Sender, deviceID string) int {
	failed := 0
	for _, entry := range entries {
		if err := r.invoke(ctx, entry, msg, client, deviceID); err != nil {
			failed++
			r.log.Error("handler failed",
				zap.String("device", deviceID),
				zap.String("handler", entry.Name),
				zap.String("from", msg.From),
				zap.Error(err))
		}
	}
	return failed
}

func (r *Router) invoke(ctx context.Context, entry logic.Entry, msg *whatsapp.Message, client whatsapp.Sender, deviceID string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return entry.Handler.HandleMessage(ctx, msg, client, deviceID)
}

// Close releases the pool. Jobs already running finish on their own.
func (r *Router) Close() {
	r.pool.Release()
}
