package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var errPoolDrained = errors.New("connection pool has been drained, client is dead")

// connectionPool hands out at most size connections to address, dialing lazily.
type connectionPool struct {
	address     string
	dialer      net.Dialer
	waitTimeout time.Duration
	// one token per live connection, idle or busy
	slots     chan struct{}
	idle      chan net.Conn
	drained   chan struct{}
	drainOnce sync.Once
}

func newConnectionPool(address string, size int, waitTimeout time.Duration) *connectionPool {
	if size < 1 {
		size = 1
	}
	return &connectionPool{
		address:     address,
		waitTimeout: waitTimeout,
		slots:       make(chan struct{}, size),
		idle:        make(chan net.Conn, size),
		drained:     make(chan struct{}),
	}
}

// get returns an idle connection or dials a new one while the pool has room.
func (p *connectionPool) get(ctx context.Context) (net.Conn, error) {
	select {
	case <-p.drained:
		return nil, errPoolDrained
	case conn := <-p.idle:
		return conn, nil
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, p.waitTimeout)
	defer cancel()
	select {
	case <-p.drained:
		return nil, errPoolDrained
	case conn := <-p.idle:
		return conn, nil
	case p.slots <- struct{}{}:
		conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
		if err != nil {
			<-p.slots
			return nil, errors.Wrap(err, "could not dial")
		}
		return conn, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "could not get a connection")
	}
}

// put hands a connection back, a connection that failed is closed and frees its slot.
func (p *connectionPool) put(conn net.Conn, err error) {
	if err == nil {
		select {
		case <-p.drained:
		default:
			p.idle <- conn
			return
		}
	}
	_ = conn.Close()
	<-p.slots
}

func (p *connectionPool) drain() {
	p.drainOnce.Do(func() {
		close(p.drained)
		for {
			select {
			case conn := <-p.idle:
				_ = conn.Close()
				<-p.slots
			default:
				return
			}
		}
	})
}
