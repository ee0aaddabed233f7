package chat

import (
	"relayd/internal/app/wire"
	"relayd/internal/pkg/errs"
)

// relayMessage delivers msg to its receiver and acknowledges the outcome to the sender.
// The receiver gets the message with CodeOK before the sender sees its acknowledgment;
// on any failure only the sender hears back, with CodeFailure.
func (s *session) relayMessage(msg *wire.Message) {
	_, to, err := s.srv.registry.Route(msg.Sender, msg.Receiver)
	if err == nil && msg.Sender != s.userID {
		err = errs.NewError(errs.ErrSenderMismatch)
	}
	if err != nil {
		s.rejectMessage(msg, err)
		return
	}

	out := *msg
	out.Code = wire.CodeOK
	if err := to.Send(&out); err != nil {
		s.logger.Debug().Err(err).Int32("receiver_id", msg.Receiver).Msg("Failed to deliver message.")
		s.rejectMessage(msg, errs.NewError(errs.ErrTransferFailed))
		return
	}

	s.srv.stats.messagesRelayed.Add(1)

	if err := s.peer.Send(&wire.Ack{Code: wire.CodeOK, Sender: msg.Sender}); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to acknowledge message.")
	}
}

// rejectMessage answers on the requesting session's own connection, best-effort.
func (s *session) rejectMessage(msg *wire.Message, cause error) {
	s.srv.stats.messagesRejected.Add(1)

	s.logger.Info().
		Int("error_code", errs.Code(cause)).
		Int32("sender_id", msg.Sender).
		Int32("receiver_id", msg.Receiver).
		Msg("Message rejected.")

	if err := s.peer.Send(&wire.Ack{Code: wire.CodeFailure, Sender: msg.Sender}); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send message rejection.")
	}
}
