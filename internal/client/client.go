package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rcpctl/internal/auth"
	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/danmuck/rcpctl/internal/transport"
	"github.com/rs/zerolog/log"
)

type authKind uint8

const (
	authChallenge authKind = iota + 1
	authOK
	authFailed
	authClosed
)

type authMsg struct {
	kind    authKind
	payload []byte
	info    schema.SessionInfo
	reason  string
}

type queuedEvent struct {
	ev   Event
	sent chan struct{}
}

// delivered is returned for events that went straight into the buffer.
var delivered = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Client is one connection to an rcp server. Methods are safe for
// concurrent use. Events must be drained (directly or through Start); the
// reader stalls while the event buffer is full. State changes never block
// the caller: when the buffer is full they wait in an ordered backlog.
type Client struct {
	cfg    Config
	events chan Event
	authCh chan authMsg

	mu          sync.Mutex
	state       State
	conn        *session.Conn
	done        chan struct{}
	info        schema.SessionInfo
	subs        map[string]bool
	authWaiting bool

	evMu     sync.Mutex
	backlog  []queuedEvent
	flushing bool

	display   *Display
	input     *Input
	clipboard *Clipboard
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		events: make(chan Event, cfg.EventBuffer),
		authCh: make(chan authMsg, 4),
		subs:   make(map[string]bool),
	}
	c.display = &Display{c: c}
	c.input = &Input{c: c}
	c.clipboard = &Clipboard{c: c}
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the SessionInfo from the last successful authentication.
func (c *Client) Session() schema.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.info
	info.Permissions = slices.Clone(c.info.Permissions)
	return info
}

// Subscriptions maps each requested service to whether the server has
// acknowledged it.
func (c *Client) Subscriptions() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

func (c *Client) Display() *Display     { return c.display }
func (c *Client) Input() *Input         { return c.input }
func (c *Client) Clipboard() *Clipboard { return c.clipboard }

// post queues ev behind any backlog and returns without blocking. The
// returned channel closes once the consumer has room for ev.
func (c *Client) post(ev Event) <-chan struct{} {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if !c.flushing {
		select {
		case c.events <- ev:
			return delivered
		default:
		}
	}
	q := queuedEvent{ev: ev, sent: make(chan struct{})}
	c.backlog = append(c.backlog, q)
	if !c.flushing {
		c.flushing = true
		go c.flush()
	}
	return q.sent
}

// flush moves the backlog into the events buffer in order.
func (c *Client) flush() {
	for {
		c.evMu.Lock()
		if len(c.backlog) == 0 {
			c.flushing = false
			c.evMu.Unlock()
			return
		}
		q := c.backlog[0]
		c.backlog[0] = queuedEvent{}
		c.backlog = c.backlog[1:]
		c.evMu.Unlock()
		c.events <- q.ev
		close(q.sent)
	}
}

// deliver applies reader backpressure: it waits until ev reaches the buffer
// or the connection is torn down.
func (c *Client) deliver(done <-chan struct{}, ev Event) {
	select {
	case <-done:
		return
	default:
	}
	select {
	case <-c.post(ev):
	case <-done:
	}
}

// setStateLocked swaps state and returns the event to emit once mu is
// released.
func (c *Client) setStateLocked(next State) (Event, bool) {
	prev := c.state
	c.state = next
	if prev == next {
		return Event{}, false
	}
	return Event{Kind: EventStateChanged, Old: prev, New: next}, true
}

func (c *Client) emitIf(ev Event, ok bool) {
	if ok {
		log.Debug().Str("from", ev.Old.String()).Str("to", ev.New.String()).Msg("client.state")
		c.post(ev)
	}
}

// Connect dials the server within the configured connect timeout and starts
// the reader. Only valid from Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return &TransitionError{Op: "connect", State: st}
	}
	ev, ok := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.emitIf(ev, ok)

	addr := c.cfg.Addr()
	raw, err := transport.Dial(ctx, c.cfg.Session, addr)
	if err != nil {
		c.mu.Lock()
		ev, ok := c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.emitIf(ev, ok)
		return fmt.Errorf("client: connect %s: %w", addr, err)
	}
	conn := session.NewConn(raw, c.cfg.Session)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the dial
		st := c.state
		c.mu.Unlock()
		_ = conn.Close()
		return &TransitionError{Op: "connect", State: st}
	}
	done := make(chan struct{})
	c.conn = conn
	c.done = done
	c.info = schema.SessionInfo{}
	clear(c.subs)
	ev, ok = c.setStateLocked(StateConnected)
	c.mu.Unlock()
	c.emitIf(ev, ok)

	log.Info().Str("addr", addr).Str("transport", string(session.NormalizeTransport(c.cfg.Session.Transport))).Msg("client.connect connected")
	go c.readLoop(conn, done)
	return nil
}

// Authenticate runs the handshake on a Connected client. The wait is
// bounded by Session.AuthTimeout; expiry yields ErrAuthTimeout and a server
// refusal yields *AuthRejectedError.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		st := c.state
		c.mu.Unlock()
		return &TransitionError{Op: "authenticate", State: st}
	}
	conn := c.conn
	for len(c.authCh) > 0 {
		<-c.authCh
	}
	c.authWaiting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.authWaiting = false
		c.mu.Unlock()
	}()

	method := c.cfg.Auth.Method
	req := schema.AuthRequest{Method: method, ClientID: c.cfg.ClientID, Credential: c.cfg.Auth.credential()}
	if err := conn.Send(protocol.CmdAuth, req.Encode()); err != nil {
		return fmt.Errorf("client: send auth request: %w", err)
	}

	timer := time.NewTimer(c.cfg.Session.AuthTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			c.abandonAuth(conn)
			return ctx.Err()
		case <-timer.C:
			c.abandonAuth(conn)
			return ErrAuthTimeout
		case m := <-c.authCh:
			switch m.kind {
			case authChallenge:
				if err := c.answerChallenge(conn, m.payload); err != nil {
					return err
				}
			case authOK:
				c.mu.Lock()
				if c.conn != conn {
					c.mu.Unlock()
					return ErrConnectionClosed
				}
				c.info = m.info
				ev, ok := c.setStateLocked(StateAuthenticated)
				c.mu.Unlock()
				c.emitIf(ev, ok)
				c.post(Event{Kind: EventAuthenticated, SessionID: m.info.SessionID})
				log.Info().Str("session_id", m.info.SessionID).Strs("permissions", m.info.Permissions).Msg("client.authenticate ok")
				return nil
			case authFailed:
				return &AuthRejectedError{Reason: m.reason}
			case authClosed:
				if m.reason != "" {
					return &AuthRejectedError{Reason: m.reason}
				}
				return ErrConnectionClosed
			}
		}
	}
}

// abandonAuth drops a connection whose handshake outcome was never seen, so
// a late AuthOK cannot leave the server and the client disagreeing.
func (c *Client) abandonAuth(conn *session.Conn) {
	c.mu.Lock()
	c.authWaiting = false
	current := c.conn == conn
	c.mu.Unlock()
	if current {
		log.Warn().Msg("client.authenticate abandoned, closing connection")
		_ = c.Disconnect()
	}
}

func (c *Client) answerChallenge(conn *session.Conn, payload []byte) error {
	if c.cfg.Auth.Method != schema.AuthPSK {
		return fmt.Errorf("client: unexpected challenge for %s", c.cfg.Auth.Method)
	}
	challenge, err := schema.DecodeAuthChallenge(payload)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	resp := schema.AuthResponse{
		ClientID: c.cfg.ClientID,
		Response: auth.ComputePSKResponse([]byte(c.cfg.Auth.PSK), challenge.Challenge, challenge.Salt),
	}
	body, err := resp.Encode()
	if err != nil {
		return fmt.Errorf("client: encode auth response: %w", err)
	}
	if err := conn.Send(protocol.CmdAuth, body); err != nil {
		return fmt.Errorf("client: send auth response: %w", err)
	}
	return nil
}

// routeAuth hands m to a waiting Authenticate. It reports whether anyone was
// waiting.
func (c *Client) routeAuth(m authMsg) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authWaiting {
		return false
	}
	select {
	case c.authCh <- m:
	default:
	}
	return true
}

// readLoop owns the read half of conn until it fails.
func (c *Client) readLoop(conn *session.Conn, done chan struct{}) {
	var lastServerError string
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			c.connectionLost(conn, done, err, lastServerError)
			return
		}
		switch f.Command() {
		case protocol.CmdAuth:
			if !c.routeAuth(authMsg{kind: authChallenge, payload: f.Payload}) {
				log.Warn().Msg("client.read unexpected auth challenge")
			}
		case protocol.CmdAuthOK:
			info, err := schema.DecodeSessionInfo(f.Payload)
			if err != nil {
				c.routeAuth(authMsg{kind: authFailed, reason: err.Error()})
				c.deliver(done, Event{Kind: EventAuthFailed, Reason: err.Error(), Err: err})
				continue
			}
			// Authenticate reports success once the state has moved
			if !c.routeAuth(authMsg{kind: authOK, info: info}) {
				log.Warn().Str("session_id", info.SessionID).Msg("client.read unexpected auth ok")
			}
		case protocol.CmdAuthFailed:
			reason := string(f.Payload)
			c.routeAuth(authMsg{kind: authFailed, reason: reason})
			c.deliver(done, Event{Kind: EventAuthFailed, Reason: reason})
		case protocol.CmdError:
			lastServerError = string(f.Payload)
			c.noteServerError(lastServerError)
			c.deliver(done, Event{Kind: EventError, Reason: lastServerError, Frame: f})
		case protocol.CmdAck:
			c.noteAck(string(f.Payload))
			c.deliver(done, Event{Kind: EventFrame, Frame: f})
		default:
			c.deliver(done, Event{Kind: EventFrame, Frame: f})
		}
	}
}

func (c *Client) noteAck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[name]; ok {
		c.subs[name] = true
	}
}

// noteServerError forgets a pending subscription the server refused.
func (c *Client) noteServerError(reason string) {
	for _, prefix := range []string{"permission denied: ", "unknown service: ", "service start failed: "} {
		if name, ok := strings.CutPrefix(reason, prefix); ok {
			c.mu.Lock()
			if granted, pending := c.subs[name]; pending && !granted {
				delete(c.subs, name)
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) connectionLost(conn *session.Conn, done chan struct{}, err error, lastServerError string) {
	c.mu.Lock()
	if c.conn != conn {
		// replaced or torn down by Disconnect
		c.mu.Unlock()
		return
	}
	waiting := c.authWaiting
	if waiting {
		select {
		case c.authCh <- authMsg{kind: authClosed, reason: lastServerError}:
		default:
		}
	}
	c.conn = nil
	c.done = nil
	clear(c.subs)
	ev, ok := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	close(done)
	_ = conn.Close()

	clean := errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, session.ErrConnClosed)
	if clean {
		log.Info().Msg("client.read server closed connection")
	} else {
		log.Warn().Err(err).Msg("client.read failed")
		c.post(Event{Kind: EventError, Err: err, Reason: err.Error()})
	}
	c.emitIf(ev, ok)
	c.post(Event{Kind: EventDisconnected, Reason: lastServerError, Err: err})
}

// Disconnect sends a best-effort Disconnect frame and closes the stream.
// It is safe from any state and repeatable.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateDisconnecting {
		c.mu.Unlock()
		return nil
	}
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	if c.authWaiting {
		select {
		case c.authCh <- authMsg{kind: authClosed}:
		default:
		}
	}
	leaving, leavingOK := c.setStateLocked(StateDisconnecting)
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		if err := conn.Send(protocol.CmdDisconnect, nil); err != nil {
			log.Debug().Err(err).Msg("client.disconnect notify failed")
		}
		_ = conn.Shutdown()
	}

	c.mu.Lock()
	c.info = schema.SessionInfo{}
	clear(c.subs)
	left, leftOK := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	c.emitIf(leaving, leavingOK)
	c.emitIf(left, leftOK)
	log.Info().Msg("client.disconnect done")
	return nil
}

func (c *Client) authenticatedConn() (*session.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated || c.conn == nil {
		return nil, ErrNotAuthenticated
	}
	return c.conn, nil
}

// SendFrame writes f on an authenticated connection.
func (c *Client) SendFrame(f frame.Frame) error {
	conn, err := c.authenticatedConn()
	if err != nil {
		return err
	}
	return conn.WriteFrame(f)
}

func (c *Client) send(cmd protocol.Command, payload []byte) error {
	return c.SendFrame(frame.New(cmd, payload))
}

func (c *Client) Ping() error {
	return c.send(protocol.CmdPing, nil)
}

func (c *Client) Heartbeat() error {
	return c.send(protocol.CmdHeartbeat, nil)
}

// LaunchApp asks the server to start an application. The server answers
// with an Ack carrying the application path or an Error frame.
func (c *Client) LaunchApp(cmd schema.LaunchAppCommand) error {
	payload, err := cmd.Encode()
	if err != nil {
		return err
	}
	return c.send(protocol.CmdLaunchApp, payload)
}

// Subscribe requests service name once; repeats are no-ops.
func (c *Client) Subscribe(name string) error {
	if _, err := schema.DecodeServiceName([]byte(name)); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state != StateAuthenticated || c.conn == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if _, ok := c.subs[name]; ok {
		c.mu.Unlock()
		return nil
	}
	c.subs[name] = false
	conn := c.conn
	c.mu.Unlock()

	if err := conn.Send(protocol.CmdServiceSubscribe, []byte(name)); err != nil {
		c.mu.Lock()
		delete(c.subs, name)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops name if it was requested; otherwise it is a no-op.
func (c *Client) Unsubscribe(name string) error {
	c.mu.Lock()
	if c.state != StateAuthenticated || c.conn == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if _, ok := c.subs[name]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, name)
	conn := c.conn
	c.mu.Unlock()
	return conn.Send(protocol.CmdServiceUnsubscribe, []byte(name))
}

// Start processes events until ctx ends, updating the service handles from
// received frames and passing every event to handler when it is non-nil.
func (c *Client) Start(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			if ev.Kind == EventFrame {
				c.dispatchFrame(ev.Frame)
			}
			if handler != nil {
				handler(ev)
			}
		}
	}
}

func (c *Client) dispatchFrame(f frame.Frame) {
	switch f.Command() {
	case protocol.CmdDisplayInfo:
		c.display.observe(f)
	case protocol.CmdClipboardData:
		c.clipboard.observe(f)
	}
}

// KeepAlive sends a Heartbeat every Session.HeartbeatInterval while the
// client stays authenticated. It returns when ctx ends or a send fails.
func (c *Client) KeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Session.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				return err
			}
		}
	}
}
