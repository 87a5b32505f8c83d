package netstate

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Second

type (
	// Checker reports whether the network is currently reachable.
	Checker interface {
		Online() bool
	}
	// Fixed is a Checker with a constant answer.
	Fixed bool
	// Monitor probes a url and tracks connectivity transitions.
	Monitor struct {
		l         *zap.Logger
		client    *http.Client
		probeURL  string
		interval  time.Duration
		online    atomic.Bool
		mu        sync.Mutex
		reconnect []func(ctx context.Context)
	}
	Option func(*Monitor)
)

func (f Fixed) Online() bool {
	return bool(f)
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// New creates a monitor which assumes to be online until a probe says otherwise.
func New(l *zap.Logger, probeURL string, opts ...Option) *Monitor {
	inst := &Monitor{
		l:        l.Named("netstate"),
		client:   &http.Client{Timeout: 5 * time.Second},
		probeURL: probeURL,
		interval: DefaultInterval,
	}
	inst.online.Store(true)
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithHTTPClient(v *http.Client) Option {
	return func(o *Monitor) {
		o.client = v
	}
}

func WithInterval(v time.Duration) Option {
	return func(o *Monitor) {
		o.interval = v
	}
}

func WithOnline(v bool) Option {
	return func(o *Monitor) {
		o.online.Store(v)
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnReconnect registers fn to run on every offline to online transition.
func (m *Monitor) OnReconnect(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = append(m.reconnect, fn)
}

// Set records the connectivity state and runs the reconnect callbacks on a transition to online.
func (m *Monitor) Set(ctx context.Context, online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}
	if !online {
		m.l.Info("connection lost")
		return
	}
	m.l.Info("connection restored")
	m.mu.Lock()
	callbacks := append([]func(context.Context){}, m.reconnect...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(ctx)
	}
}

// Probe checks the probe url once. Any http response counts as online.
func (m *Monitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.l.Warn("invalid probe url", zap.String("url", m.probeURL), zap.Error(err))
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.l.Debug("probe failed", zap.Error(err))
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (m *Monitor) PollRoutine(ctx context.Context) error {
	l := m.l.Named("routine.poll")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Set(ctx, m.Probe(ctx))
	for {
		select {
		case <-ctx.Done():
			l.Debug("routine canceled", zap.Error(ctx.Err()))
			return nil
		case <-ticker.C:
			m.Set(ctx, m.Probe(ctx))
		}
	}
}
