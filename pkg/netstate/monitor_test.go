package netstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestMonitor_ReconnectCallbacks(t *testing.T) {
	ctx := context.Background()
	m := New(zaptest.NewLogger(t), "http://unused", WithOnline(false))

	var calls atomic.Int32
	m.OnReconnect(func(context.Context) { calls.Add(1) })

	m.Set(ctx, false)
	assert.Equal(t, int32(0), calls.Load())

	m.Set(ctx, true)
	m.Set(ctx, true)
	assert.True(t, m.Online())
	assert.Equal(t, int32(1), calls.Load())

	m.Set(ctx, false)
	m.Set(ctx, true)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMonitor_Probe(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	m := New(zaptest.NewLogger(t), svr.URL)
	assert.True(t, m.Probe(context.Background()))

	svr.Close()
	assert.False(t, m.Probe(context.Background()))
}

func TestMonitor_PollRoutine(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer svr.Close()

	m := New(zaptest.NewLogger(t), svr.URL, WithOnline(false), WithInterval(10*time.Millisecond))
	reconnected := make(chan struct{}, 1)
	m.OnReconnect(func(context.Context) { reconnected <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.PollRoutine(ctx) }()

	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}
	assert.True(t, m.Online())
	cancel()
	assert.NoError(t, <-done)
}

func TestFixed(t *testing.T) {
	var c Checker = Fixed(false)
	assert.False(t, c.Online())
}
