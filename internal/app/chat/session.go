package chat

import (
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"

	"relayd/internal/app/wire"
	"relayd/internal/pkg/errs"
	"relayd/internal/pkg/logx"
)

// errSessionEnd stops the authenticated loop without being a transport failure.
var errSessionEnd = errors.New("session ended")

// session is the state machine of one accepted connection.
// Only the session goroutine reads from conn.
type session struct {
	srv  *Server
	conn net.Conn
	peer *Peer

	// userID is set once login succeeded; 0 means AwaitingLogin.
	userID int32

	logger zerolog.Logger
}

func newSession(srv *Server, conn net.Conn) *session {
	peer := newPeer(conn)

	return &session{
		srv:  srv,
		conn: conn,
		peer: peer,
		logger: logx.Component("Session").With().
			Str("session_id", peer.SessionID()).
			Str("remote", logx.AnonymizeIP(peer.RemoteAddr().String())).
			Logger(),
	}
}

// run drives the session through AwaitingLogin and Authenticated, then closes it.
func (s *session) run() {
	defer s.close()

	if !s.login() {
		return
	}

	for {
		if err := s.next(); err != nil {
			if !errors.Is(err, errSessionEnd) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Err(err).Msg("Session terminated by transport error.")
			}
			return
		}
	}
}

// login handles the AwaitingLogin state. It reports whether the session is authenticated.
func (s *session) login() bool {
	rec, err := wire.ReadRecord(s.conn)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownTag) {
			s.rejectLogin(&wire.Identity{Op: wire.TagLogin}, errs.NewError(errs.ErrLoginRequired))
			return false
		}
		// Short read or EOF: no reply.
		s.logger.Debug().Err(err).Msg("Connection closed before login.")
		return false
	}

	req, ok := rec.(*wire.Identity)
	if !ok || req.Op != wire.TagLogin {
		s.rejectLogin(&wire.Identity{Op: wire.TagLogin}, errs.NewError(errs.ErrLoginRequired))
		return false
	}

	if err := s.srv.registry.Login(req.ID, req.Name, s.peer.RemoteAddr(), s.peer); err != nil {
		s.rejectLogin(req, err)
		return false
	}

	s.userID = req.ID
	s.logger = s.logger.With().Int32("user_id", req.ID).Logger()

	reply := *req
	reply.Code = wire.CodeOK
	if err := s.peer.Send(&reply); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to acknowledge login.")
		return false
	}

	s.logger.Info().Str("name", req.Name).Msg("Session authenticated.")
	return true
}

func (s *session) rejectLogin(req *wire.Identity, cause error) {
	s.logger.Info().
		Int("error_code", errs.Code(cause)).
		Str("name", req.Name).
		Int32("requested_id", req.ID).
		Msg("Login rejected.")

	reply := *req
	reply.Op = wire.TagLogin
	reply.Code = wire.CodeFailure
	if err := s.peer.Send(&reply); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send login rejection.")
	}
}

// next reads and dispatches one record in the Authenticated state.
func (s *session) next() error {
	tag, err := wire.ReadTag(s.conn)
	if err != nil {
		return err
	}

	switch tag {
	case wire.TagMessage, wire.TagFileHeader, wire.TagSessionEnd:
	default:
		return s.unexpected(tag)
	}

	rec, err := wire.ReadBody(s.conn, tag)
	if err != nil {
		return err
	}

	switch req := rec.(type) {
	case *wire.Message:
		s.relayMessage(req)
		return nil
	case *wire.FileHeader:
		return s.transfer(req)
	default:
		s.logger.Info().Msg("Session ended by client.")
		return errSessionEnd
	}
}

// unexpected applies the unknown-tag policy. Known tags that make no sense here have
// their body skipped so the stream stays framed.
func (s *session) unexpected(tag wire.Tag) error {
	if s.srv.cfg.UnknownTagPolicy != UnknownTagIgnore {
		s.logger.Info().Str("tag", tag.String()).Msg("Unknown tag, ending session.")
		return errSessionEnd
	}

	s.logger.Debug().Str("tag", tag.String()).Msg("Unknown tag ignored.")

	if size, ok := wire.Size(tag); ok {
		if _, err := io.CopyN(io.Discard, s.conn, int64(size-wire.TagSize)); err != nil {
			return err
		}
	}
	return nil
}

// close is the Closed state: detach from the registry, then drop the connection.
func (s *session) close() {
	if s.userID != 0 && s.srv.registry.LogoutHandle(s.userID, s.peer) {
		s.logger.Info().Msg("User disconnected.")
	}
	s.conn.Close()
}
