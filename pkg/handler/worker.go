package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foomo/storysync/pkg/notify"
	"github.com/foomo/storysync/responses"
	httputils "github.com/foomo/keel/utils/net/http"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// HeaderClientID names the client posting a message.
	HeaderClientID = "X-Client-ID"

	DefaultWorkerPath      = "/_worker"
	DefaultKeepAlive       = 15 * time.Second
	maxPushPayloadBytes    = 1 << 20
	maxMessagePayloadBytes = 8 << 20
)

type (
	// Worker exposes the notification dispatcher to clients and hands everything
	// outside of its path to next, usually the worker registry.
	Worker struct {
		l          *zap.Logger
		path       string
		keepAlive  time.Duration
		dispatcher *notify.Dispatcher
		hub        *notify.Hub
		next       http.Handler
		mux        *http.ServeMux
	}
	WorkerOption func(*Worker)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewWorker(l *zap.Logger, dispatcher *notify.Dispatcher, hub *notify.Hub, next http.Handler, opts ...WorkerOption) *Worker {
	inst := &Worker{
		l:          l.Named("worker"),
		path:       DefaultWorkerPath,
		keepAlive:  DefaultKeepAlive,
		dispatcher: dispatcher,
		hub:        hub,
		next:       next,
	}

	for _, opt := range opts {
		opt(inst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+inst.path+"/message", inst.message)
	mux.HandleFunc("POST "+inst.path+"/push", inst.push)
	mux.HandleFunc("POST "+inst.path+"/notifications/{tag}/click", inst.click)
	mux.HandleFunc("POST "+inst.path+"/notifications/{tag}/close", inst.close)
	mux.HandleFunc("GET "+inst.path+"/events", inst.events)
	inst.mux = mux

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithWorkerPath(v string) WorkerOption {
	return func(o *Worker) {
		o.path = strings.TrimSuffix(v, "/")
	}
}

func WithKeepAlive(v time.Duration) WorkerOption {
	return func(o *Worker) {
		o.keepAlive = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, w.path+"/") {
		w.mux.ServeHTTP(rw, r)
		return
	}
	if w.next == nil {
		http.NotFound(rw, r)
		return
	}
	w.next.ServeHTTP(rw, r)
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (w *Worker) message(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxMessagePayloadBytes))
	if err != nil {
		httputils.BadRequestServerError(w.l, rw, r, errors.Wrap(err, "failed to read message"))
		return
	}
	var msg notify.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		w.reply(rw, http.StatusBadRequest, responses.NewBadRequest(responses.CodeInvalidJSON, "could not read incoming json "+err.Error()))
		return
	}
	w.dispatch(rw, r, notify.MessageEvent{Source: r.Header.Get(HeaderClientID), Message: msg})
}

func (w *Worker) push(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxPushPayloadBytes))
	if err != nil {
		httputils.BadRequestServerError(w.l, rw, r, errors.Wrap(err, "failed to read push payload"))
		return
	}
	w.dispatch(rw, r, notify.PushEvent{Payload: body})
}

func (w *Worker) click(rw http.ResponseWriter, r *http.Request) {
	w.dispatch(rw, r, notify.ClickEvent{Tag: r.PathValue("tag"), Action: r.URL.Query().Get("action")})
}

func (w *Worker) close(rw http.ResponseWriter, r *http.Request) {
	w.dispatch(rw, r, notify.CloseEvent{Tag: r.PathValue("tag")})
}

// events streams the frames of one client as server-sent events until the client goes away
// or connects again with the same id.
func (w *Worker) events(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		httputils.ServerError(w.l, rw, r, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	id := r.URL.Query().Get("client")
	if id == "" {
		id = uuid.NewString()
	}
	sub, unsubscribe := w.hub.Subscribe(id, r.URL.Query().Get("url"))
	defer unsubscribe()
	w.l.Debug("client connected", zap.String("client", id))

	header := rw.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(map[string]string{"clientId": id})
	if err := writeFrame(rw, notify.Frame{Event: "hello", Data: hello}); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(w.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			w.l.Debug("client disconnected", zap.String("client", id))
			return
		case frame, ok := <-sub.C:
			if !ok {
				w.l.Debug("client replaced", zap.String("client", id))
				return
			}
			if err := writeFrame(rw, frame); err != nil {
				w.l.Debug("failed to write frame", zap.String("client", id), zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(rw, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (w *Worker) dispatch(rw http.ResponseWriter, r *http.Request, ev notify.Event) {
	effects, err := w.dispatcher.Dispatch(r.Context(), ev)
	if err != nil && len(effects) == 0 {
		w.reply(rw, http.StatusInternalServerError, responses.NewError(responses.CodeInternal, err.Error()))
		return
	}
	if err != nil {
		// the event was handled, some clients just did not get it
		w.l.Warn("event partially applied", zap.String("type", string(ev.Type())), zap.Error(err))
	}
	kinds := make([]string, 0, len(effects))
	for _, effect := range effects {
		kinds = append(kinds, effect.Kind())
	}
	w.reply(rw, http.StatusOK, &responses.Dispatch{Effects: kinds})
}

func (w *Worker) reply(rw http.ResponseWriter, status int, reply interface{}) {
	bytes, err := json.Marshal(map[string]interface{}{
		"reply": reply,
	})
	if err != nil {
		w.l.Error("could not encode reply", zap.Error(err))
		bytes, status = fallbackReply, http.StatusInternalServerError
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_, _ = rw.Write(bytes)
}

func writeFrame(w io.Writer, f notify.Frame) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Event, f.Data)
	return err
}
