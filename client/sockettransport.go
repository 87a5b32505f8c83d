package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/foomo/storysync/pkg/handler"
	"github.com/pkg/errors"
)

type socketTransport struct {
	connPool *connectionPool
}

// NewSocketTransport will create a new socket transport keeping up to connectionPoolSize
// connections to server.
func NewSocketTransport(server string, connectionPoolSize int, waitTimeout time.Duration) transport {
	return &socketTransport{
		connPool: newConnectionPool(server, connectionPoolSize, waitTimeout),
	}
}

func (st *socketTransport) shutdown() {
	st.connPool.drain()
}

func (st *socketTransport) call(ctx context.Context, route handler.Route, request interface{}, response interface{}) error {
	jsonBytes, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "could not marshal request")
	}
	conn, err := st.connPool.get(ctx)
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		st.connPool.put(conn, err)
		return errors.Wrap(err, "could not set deadline")
	}

	// write header result will be like handler:2{}
	frame := append([]byte(fmt.Sprintf("%s:%d", route, len(jsonBytes))), jsonBytes...)
	if _, err := conn.Write(frame); err != nil {
		st.connPool.put(conn, err)
		return errors.Wrap(err, "failed to send request")
	}

	responseBytes, err := readReply(conn)
	st.connPool.put(conn, err)
	if err != nil {
		return errors.Wrap(err, "an error occurred while reading the response")
	}
	return decodeReply(responseBytes, response)
}

// readReply reads a `length{json}` frame.
func readReply(conn net.Conn) ([]byte, error) {
	var (
		header []byte
		b      = make([]byte, 1)
	)
	for {
		if _, err := io.ReadFull(conn, b); err != nil {
			return nil, err
		}
		if b[0] == '{' {
			break
		}
		header = append(header, b[0])
	}
	length, err := strconv.Atoi(string(header))
	if err != nil {
		return nil, errors.Wrap(err, "could not read response length")
	}
	if length < 2 {
		return nil, errors.Errorf("invalid response length %d", length)
	}
	reply := make([]byte, length)
	reply[0] = '{'
	if _, err := io.ReadFull(conn, reply[1:]); err != nil {
		return nil, err
	}
	return reply, nil
}
