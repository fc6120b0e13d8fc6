package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/rcpctl/internal/auth"
	"github.com/danmuck/rcpctl/internal/observability"
	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/protocol/session"
	"github.com/danmuck/rcpctl/internal/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the server-side session lifecycle.
type State uint8

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// SessionSnapshot is the admin view of one session.
type SessionSnapshot struct {
	ConnID    string    `json:"conn_id"`
	SessionID string    `json:"session_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Remote    string    `json:"remote"`
	State     string    `json:"state"`
	Services  []string  `json:"services"`
	Since     time.Time `json:"since"`
	ExpiresAt int64     `json:"expires_at,omitempty"`
}

// Session is one accepted connection. Its goroutine owns conn and the
// service set exclusively; mu only guards fields read by snapshot.
type Session struct {
	srv      *Server
	connID   string
	conn     *session.Conn
	services *services.Set
	since    time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	state    State
	clientID string
	info     schema.SessionInfo
}

func newSession(srv *Server, connID string, conn *session.Conn) *Session {
	return &Session{
		srv:      srv,
		connID:   connID,
		conn:     conn,
		services: services.NewSet(),
		since:    srv.clock(),
		logger:   log.With().Str("conn_id", connID).Str("remote", conn.RemoteAddr()).Logger(),
		state:    StateConnected,
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("server.session state")
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		ConnID:    s.connID,
		SessionID: s.info.SessionID,
		ClientID:  s.clientID,
		Remote:    s.conn.RemoteAddr(),
		State:     s.state.String(),
		Services:  s.services.Names(),
		Since:     s.since,
		ExpiresAt: s.info.ExpiresAt,
	}
}

func (s *Session) permissions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.info.Permissions)
}

func (s *Session) run() {
	defer s.teardown()
	s.logger.Info().Msg("server.session connected")

	if err := s.authenticate(); err != nil {
		s.logger.Warn().Err(err).Msg("server.session authentication failed")
		return
	}

	for {
		f, err := s.conn.ReadFrame()
		if err != nil {
			s.logReadEnd(err)
			return
		}
		observability.RecordFrame(f.Command().String(), "in")

		if err := s.checkExpiry(); err != nil {
			s.logger.Info().Err(err).Str("session_id", s.info.SessionID).Msg("server.session expired")
			_ = s.send(protocol.CmdError, []byte(err.Reason))
			return
		}

		done, err := s.dispatch(f)
		if err != nil {
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				s.logger.Warn().Err(err).Str("command", f.Command().String()).Msg("server.session dispatch failed")
				return
			}
			s.logger.Debug().Err(err).Str("command", f.Command().String()).Msg("server.session request rejected")
			if err := s.send(protocol.CmdError, []byte(perr.Reason)); err != nil {
				return
			}
		}
		if done {
			s.logger.Info().Msg("server.session disconnect requested")
			return
		}
		if err := s.drain(); err != nil {
			s.logger.Warn().Err(err).Msg("server.session drain failed")
			return
		}
	}
}

// checkExpiry reports a session whose SessionInfo lifetime has passed.
func (s *Session) checkExpiry() *ProtocolError {
	if !s.info.Expired(s.srv.clock()) {
		return nil
	}
	return protocolError("session expired", ErrSessionExpired)
}

func (s *Session) logReadEnd(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, session.ErrConnClosed):
		s.logger.Info().Msg("server.session peer closed")
	case errors.Is(err, frame.ErrUnsupportedVersion), errors.Is(err, frame.ErrInvalidHeader), errors.Is(err, frame.ErrPayloadTooLarge):
		s.logger.Warn().Err(err).Msg("server.session framing error")
	default:
		s.logger.Warn().Err(err).Msg("server.session read failed")
	}
}

// authenticate runs the admission exchange. Any error means the session is
// over; the peer has already been told why when possible.
func (s *Session) authenticate() error {
	s.setState(StateAuthenticating)
	cfg := s.conn.Config()
	policy := s.srv.cfg.Auth

	f, err := s.conn.ReadFrameWithin(cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: read auth request: %v", ErrAuthFailed, err)
	}
	if f.Command() != protocol.CmdAuth {
		return s.rejectAuth("", "expected auth", fmt.Errorf("first frame was %s", f.Command()))
	}
	req, err := schema.DecodeAuthRequest(f.Payload)
	if err != nil {
		return s.rejectAuth("", "malformed auth request", err)
	}
	s.mu.Lock()
	s.clientID = req.ClientID
	s.mu.Unlock()
	method := req.Method.String()

	needChallenge, err := policy.Admit(req)
	if err != nil {
		return s.rejectAuth(method, authReason(err), err)
	}
	if needChallenge {
		challenge, err := auth.GenerateChallenge()
		if err != nil {
			return s.rejectAuth(method, "internal error", err)
		}
		payload, err := challenge.Encode()
		if err != nil {
			return s.rejectAuth(method, "internal error", err)
		}
		if err := s.send(protocol.CmdAuth, payload); err != nil {
			return fmt.Errorf("%w: send challenge: %v", ErrAuthFailed, err)
		}
		rf, err := s.conn.ReadFrameWithin(cfg.AuthTimeout)
		if err != nil {
			return s.rejectAuth(method, "missing auth response", err)
		}
		if rf.Command() != protocol.CmdAuth {
			return s.rejectAuth(method, "expected auth response", fmt.Errorf("got %s", rf.Command()))
		}
		resp, err := schema.DecodeAuthResponse(rf.Payload)
		if err != nil {
			return s.rejectAuth(method, "malformed auth response", err)
		}
		if resp.ClientID != req.ClientID {
			return s.rejectAuth(method, "client id mismatch", auth.ErrUnauthorized)
		}
		if err := policy.Verify(challenge, resp); err != nil {
			return s.rejectAuth(method, authReason(err), err)
		}
	}

	info := auth.CreateSession(policy.Grant(), policy.TTL())
	payload, err := info.Encode()
	if err != nil {
		return s.rejectAuth(method, "internal error", err)
	}
	if err := s.send(protocol.CmdAuthOK, payload); err != nil {
		return fmt.Errorf("%w: send session info: %v", ErrAuthFailed, err)
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	s.setState(StateAuthenticated)
	observability.RecordAuth(method, true)
	s.logger = s.logger.With().Str("session_id", info.SessionID).Str("client_id", req.ClientID).Logger()
	s.logger.Info().Strs("permissions", info.Permissions).Msg("server.session authenticated")
	return nil
}

func (s *Session) rejectAuth(method, reason string, cause error) error {
	if method == "" {
		method = "unknown"
	}
	observability.RecordAuth(method, false)
	_ = s.send(protocol.CmdAuthFailed, []byte(reason))
	return fmt.Errorf("%w: %s: %v", ErrAuthFailed, reason, cause)
}

func authReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return "invalid credentials"
	case errors.Is(err, auth.ErrClientNotAllowed):
		return "client not allowed"
	case errors.Is(err, auth.ErrMethodUnsupported):
		return "auth method not supported"
	case errors.Is(err, auth.ErrPSKNotConfigured):
		return "psk not configured"
	default:
		return "authentication failed"
	}
}

// dispatch handles one authenticated frame. done reports a requested
// disconnect. A *ProtocolError is reported to the peer and the session goes
// on; any other error ends it.
func (s *Session) dispatch(f frame.Frame) (done bool, err error) {
	switch f.Command() {
	case protocol.CmdHeartbeat:
		return false, s.send(protocol.CmdHeartbeat, nil)

	case protocol.CmdPing:
		return false, s.send(protocol.CmdPing, nil)

	case protocol.CmdLaunchApp:
		if !auth.HasPermission(s.permissions(), protocol.PermissionAppLaunch) {
			return false, permissionDenied(protocol.PermissionAppLaunch)
		}
		svc, err := s.ensure(protocol.ServiceApp)
		if err != nil {
			return false, protocolError("app service unavailable", err)
		}
		if err := svc.ProcessFrame(f); err != nil {
			return false, protocolError("launch failed", err)
		}
		return false, nil

	case protocol.CmdServiceSubscribe:
		name, err := schema.DecodeServiceName(f.Payload)
		if err != nil {
			return false, protocolError("invalid service name", err)
		}
		if !auth.HasPermission(s.permissions(), name) {
			observability.RecordSubscription(name, false)
			return false, permissionDenied(name)
		}
		if _, err := s.ensure(name); err != nil {
			observability.RecordSubscription(name, false)
			if errors.Is(err, services.ErrServiceNotAvailable) {
				return false, protocolError("unknown service: "+name, err)
			}
			return false, protocolError("service start failed: "+name, err)
		}
		observability.RecordSubscription(name, true)
		return false, s.send(protocol.CmdAck, []byte(name))

	case protocol.CmdServiceUnsubscribe:
		name, err := schema.DecodeServiceName(f.Payload)
		if err != nil {
			return false, protocolError("invalid service name", err)
		}
		if svc, ok := s.services.Remove(name); ok {
			if err := svc.Stop(); err != nil {
				s.logger.Warn().Err(err).Str("service", name).Msg("server.session service stop failed")
			}
			s.logger.Info().Str("service", name).Msg("server.session unsubscribed")
		}
		return false, s.send(protocol.CmdAck, []byte(name))

	case protocol.CmdVideoQuality, protocol.CmdSendInput, protocol.CmdClipboardData, protocol.CmdAudioData:
		return false, s.route(f)

	case protocol.CmdDisconnect:
		return true, nil

	default:
		return false, protocolError("unexpected command "+f.Command().String(), nil)
	}
}

// ensure returns the subscribed instance of name, creating and starting it
// on first use.
func (s *Session) ensure(name string) (services.Service, error) {
	if svc, ok := s.services.Get(name); ok {
		return svc, nil
	}
	s.mu.Lock()
	deps := services.Deps{
		SessionID:       s.info.SessionID,
		Permissions:     slices.Clone(s.info.Permissions),
		Catalog:         s.srv.cfg.Catalog,
		Launcher:        s.srv.cfg.Launcher,
		DisplayInterval: s.srv.cfg.DisplayInterval,
	}
	s.mu.Unlock()
	svc, err := s.srv.factory.Create(name, deps)
	if err != nil {
		return nil, err
	}
	if err := svc.Start(); err != nil {
		return nil, err
	}
	s.services.Add(svc)
	s.logger.Info().Str("service", name).Msg("server.session subscribed")
	return svc, nil
}

// route offers f to each subscribed service in name order until one takes it.
func (s *Session) route(f frame.Frame) error {
	for _, svc := range s.services.Ordered() {
		err := svc.ProcessFrame(f)
		if errors.Is(err, services.ErrUnsupportedCommand) {
			continue
		}
		if err != nil {
			return protocolError(svc.Name()+": "+err.Error(), err)
		}
		return nil
	}
	return protocolError("unhandled command", ErrUnhandledCommand)
}

// drain forwards at most one pending frame from each subscribed service.
func (s *Session) drain() error {
	for _, svc := range s.services.Ordered() {
		f, ok := svc.PollFrame()
		if !ok {
			continue
		}
		if err := s.conn.WriteFrame(f); err != nil {
			return err
		}
		observability.RecordFrame(f.Command().String(), "out")
	}
	return nil
}

func (s *Session) send(cmd protocol.Command, payload []byte) error {
	if err := s.conn.Send(cmd, payload); err != nil {
		return err
	}
	observability.RecordFrame(cmd.String(), "out")
	return nil
}

// teardown stops services before the stream goes away.
func (s *Session) teardown() {
	s.setState(StateClosing)
	if err := s.services.StopAll(); err != nil {
		s.logger.Warn().Err(err).Msg("server.session stop services")
	}
	_ = s.conn.Shutdown()
	s.setState(StateClosed)
	s.logger.Info().Dur("lifetime", s.srv.clock().Sub(s.since)).Msg("server.session closed")
}
