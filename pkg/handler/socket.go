package handler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/foomo/storysync/pkg/app"
	"github.com/foomo/storysync/pkg/metrics"
	"github.com/foomo/storysync/responses"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const sourceSocketServer = "socketserver"

// Socket serves the story routes over a plain connection. A request is framed as
// `route:length{json}`, a reply as `length{json}`. Connections stay open between requests.
type Socket struct {
	executor
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// NewSocket returns a shiny new socket server
func NewSocket(l *zap.Logger, svc *app.Service) *Socket {
	return &Socket{
		executor: executor{
			l:   l.Named("socket"),
			svc: svc,
		},
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (h *Socket) Serve(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			h.l.Error("panic in handle connection", zap.String("error", fmt.Sprint(r)))
		}
	}()
	defer conn.Close()

	metrics.OpenSocketsGauge.WithLabelValues().Inc()
	defer metrics.OpenSocketsGauge.WithLabelValues().Dec()

	reader := bufio.NewReader(conn)
	for {
		// the header ends where the json starts
		header, err := reader.ReadString('{')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.l.Debug("looks like the client closed the connection", zap.Error(err))
			}
			return
		}
		route, jsonLength, err := h.extractRouteAndJSONLength(strings.TrimSuffix(header, "{"))
		if err != nil {
			h.l.Error("invalid request could not read header", zap.Error(err))
			if reply, encodingErr := h.encodeReply(responses.NewBadRequest(responses.CodeInvalidFrame, "invalid header "+err.Error())); encodingErr == nil {
				h.writeResponse(conn, reply)
			}
			return
		}
		if jsonLength < 2 {
			h.l.Error("can not read empty json")
			return
		}

		jsonBytes := make([]byte, jsonLength)
		jsonBytes[0] = '{'
		if _, err := io.ReadFull(reader, jsonBytes[1:]); err != nil {
			h.l.Error("could not read json - giving up with this client connection", zap.Error(err))
			return
		}
		h.l.Debug("read json", zap.String("route", string(route)), zap.Int("length", jsonLength))

		h.writeResponse(conn, h.handleRequest(ctx, route, jsonBytes, sourceSocketServer))
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (h *Socket) extractRouteAndJSONLength(header string) (Route, int, error) {
	headerParts := strings.Split(header, ":")
	if len(headerParts) != 2 || headerParts[0] == "" {
		return "", 0, errors.Errorf("invalid header: %q", header)
	}
	jsonLength, err := strconv.Atoi(headerParts[1])
	if err != nil {
		return "", 0, errors.Errorf("could not parse length in header: %q", header)
	}
	return Route(headerParts[0]), jsonLength, nil
}

func (h *Socket) writeResponse(conn net.Conn, reply []byte) {
	frame := append([]byte(strconv.Itoa(len(reply))), reply...)
	n, err := conn.Write(frame)
	if err != nil {
		h.l.Error("could not write reply", zap.Error(err))
		return
	}
	if n < len(frame) {
		h.l.Error("write too short",
			zap.Int("got", n),
			zap.Int("expected", len(frame)),
		)
	}
}
