package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

const quicIdleTimeout = 30 * time.Second

func quicConfig(keepAlive time.Duration) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: keepAlive,
	}
}

// quicListener accepts QUIC connections and surfaces the first stream of each
// as a net.Conn. Stream setup runs per connection so a silent peer cannot
// stall Accept for everyone else.
type quicListener struct {
	ln    *quic.Listener
	conns chan net.Conn

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newQUICListener(ln *quic.Listener, streamTimeout time.Duration) *quicListener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{ln: ln, conns: make(chan net.Conn), ctx: ctx, cancel: cancel}
	go l.acceptLoop(streamTimeout)
	return l
}

func (l *quicListener) acceptLoop(streamTimeout time.Duration) {
	for {
		qconn, err := l.ln.Accept(l.ctx)
		if err != nil {
			l.mu.Lock()
			if l.ctx.Err() == nil {
				l.err = err
			}
			l.mu.Unlock()
			l.cancel()
			return
		}
		go l.awaitStream(qconn, streamTimeout)
	}
}

func (l *quicListener) awaitStream(qconn *quic.Conn, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(l.ctx, timeout)
	defer cancel()
	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		log.Debug().Err(err).Str("remote", qconn.RemoteAddr().String()).Msg("transport.quic no stream")
		_ = qconn.CloseWithError(1, "no stream")
		return
	}
	select {
	case l.conns <- newStreamConn(qconn, stream):
	case <-l.ctx.Done():
		_ = qconn.CloseWithError(0, "listener closed")
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		l.mu.Lock()
		err := l.err
		l.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ln.Close()
	})
	return err
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

// streamConn adapts one QUIC stream plus its connection to net.Conn.
type streamConn struct {
	qconn  *quic.Conn
	stream *quic.Stream

	closeOnce sync.Once
}

func newStreamConn(qconn *quic.Conn, stream *quic.Stream) *streamConn {
	return &streamConn{qconn: qconn, stream: stream}
}

func (c *streamConn) Read(p []byte) (int, error) {
	n, err := c.stream.Read(p)
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		if appErr.Remote {
			// peer closed cleanly
			return n, io.EOF
		}
		return n, net.ErrClosed
	}
	return n, err
}

func (c *streamConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *streamConn) LocalAddr() net.Addr  { return c.qconn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.qconn.RemoteAddr() }

func (c *streamConn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *streamConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

// CloseWrite finishes the send side so the peer observes EOF.
func (c *streamConn) CloseWrite() error {
	return c.stream.Close()
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stream.Close()
		err = c.qconn.CloseWithError(0, "closed")
	})
	return err
}
