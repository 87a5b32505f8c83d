package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/foomo/storysync/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const subscriberBuffer = 16

type (
	// Frame is one server-sent event for a client.
	Frame struct {
		Event string
		Data  []byte
	}
	Subscriber struct {
		Client
		C  <-chan Frame
		ch chan Frame
	}
	// Hub is the Platform of the HTTP surface: clients are event streams.
	Hub struct {
		l       *zap.Logger
		mu      sync.RWMutex
		clients map[string]*Subscriber
	}
)

func NewHub(l *zap.Logger) *Hub {
	return &Hub{
		l:       l.Named("hub"),
		clients: map[string]*Subscriber{},
	}
}

// Subscribe connects a client. A client reconnecting with the same id replaces its previous stream.
func (h *Hub) Subscribe(id, url string) (*Subscriber, func()) {
	ch := make(chan Frame, subscriberBuffer)
	s := &Subscriber{Client: Client{ID: id, URL: url}, C: ch, ch: ch}

	h.mu.Lock()
	if prev, ok := h.clients[id]; ok {
		close(prev.ch)
	}
	h.clients[id] = s
	metrics.ConnectedClientsGauge.WithLabelValues().Set(float64(len(h.clients)))
	h.mu.Unlock()

	return s, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.clients[id] == s {
			delete(h.clients, id)
			close(s.ch)
			metrics.ConnectedClientsGauge.WithLabelValues().Set(float64(len(h.clients)))
		}
	}
}

func (h *Hub) Show(_ context.Context, n Notification) error {
	return h.broadcast("notification", n)
}

func (h *Hub) Close(_ context.Context, tag string) error {
	return h.broadcast("notificationclose", map[string]string{"tag": tag})
}

// Clients returns the connected clients sorted by id.
func (h *Hub) Clients(_ context.Context) []Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ret := make([]Client, 0, len(h.clients))
	for _, s := range h.clients {
		ret = append(ret, s.Client)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

func (h *Hub) Focus(_ context.Context, clientID string) error {
	return h.send(clientID, "focus", map[string]string{"clientId": clientID})
}

// Open asks the connected clients to open url.
func (h *Hub) Open(_ context.Context, url string) error {
	return h.broadcast("open", map[string]string{"url": url})
}

func (h *Hub) Post(_ context.Context, clientID string, msg Message) error {
	return h.send(clientID, "message", msg)
}

func (h *Hub) send(clientID, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.clients[clientID]
	if !ok {
		return errors.Errorf("client %q is not connected", clientID)
	}
	h.deliver(s, Frame{Event: event, Data: data})
	return nil
}

func (h *Hub) broadcast(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.clients {
		h.deliver(s, Frame{Event: event, Data: data})
	}
	return nil
}

// deliver never blocks; slow clients lose frames.
func (h *Hub) deliver(s *Subscriber, f Frame) {
	select {
	case s.ch <- f:
	default:
		h.l.Warn("dropping frame for slow client", zap.String("client", s.ID), zap.String("event", f.Event))
	}
}
