/*
Package control serves the connectionless control channel: registration, presence lookup
and user counts, one datagram in and at most one datagram out.

Datagrams are processed synchronously in arrival order, so registry mutations from this
channel are serialized with each other.
*/
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"relayd/internal/app/registry"
	"relayd/internal/app/wire"
	"relayd/internal/pkg/errs"
	"relayd/internal/pkg/limiter"
	"relayd/internal/pkg/logx"
)

// maxDatagram bounds the read buffer; control records are far smaller.
const maxDatagram = 512

// Handler answers control datagrams against the shared registry.
type Handler struct {
	registry *registry.Registry
	limiter  *limiter.IPRateLimiter
	logger   zerolog.Logger
}

// NewHandler creates a Handler. A nil limiter disables per-source rate limiting.
func NewHandler(reg *registry.Registry, lim *limiter.IPRateLimiter) *Handler {
	return &Handler{
		registry: reg,
		limiter:  lim,
		logger:   logx.Component("Control"),
	}
}

// Serve reads datagrams from pc until ctx is cancelled or the socket fails.
// It returns nil when stopped through ctx.
func (h *Handler) Serve(ctx context.Context, pc net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() {
		pc.SetReadDeadline(time.Now())
	})
	defer stop()

	h.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("Control listener started.")

	buf := make([]byte, maxDatagram)
	for {
		n, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("control: read: %w", err)
		}

		if !h.limiter.Allow(src) {
			h.logger.Debug().
				Str("remote", logx.AnonymizeIP(src.String())).
				Int("error_code", errs.ErrRateLimitExceeded).
				Msg("Datagram dropped: rate limit exceeded.")
			continue
		}

		reply := h.handle(buf[:n], src)
		if reply == nil {
			continue
		}

		out, err := wire.Encode(reply)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to encode control reply.")
			continue
		}
		if _, err := pc.WriteTo(out, src); err != nil {
			h.logger.Warn().Err(err).Str("remote", logx.AnonymizeIP(src.String())).Msg("Failed to send control reply.")
		}
	}
}

// handle decodes one datagram and returns the reply, or nil when it must be dropped.
func (h *Handler) handle(datagram []byte, src net.Addr) wire.Record {
	rec, err := wire.Decode(datagram)
	if err != nil {
		h.logger.Debug().
			Err(err).
			Int("size", len(datagram)).
			Int("error_code", errs.Code(err)).
			Str("remote", logx.AnonymizeIP(src.String())).
			Msg("Datagram dropped.")
		return nil
	}

	return h.Dispatch(rec)
}

// Dispatch executes one decoded control request. It returns nil for records that are not
// control requests.
func (h *Handler) Dispatch(rec wire.Record) wire.Record {
	switch req := rec.(type) {
	case *wire.Identity:
		switch req.Op {
		case wire.TagRegister:
			return h.register(req)
		case wire.TagSearch:
			return h.search(req)
		}
	case *wire.Counts:
		connected, registered := h.registry.Counts()
		return &wire.Counts{
			Code:       wire.CodeOK,
			Connected:  int32(connected),
			Registered: int32(registered),
		}
	}

	h.logger.Debug().Str("tag", rec.Tag().String()).Msg("Datagram dropped: not a control request.")
	return nil
}

func (h *Handler) register(req *wire.Identity) wire.Record {
	reply := &wire.Identity{Op: wire.TagRegister, Name: req.Name}

	id, err := h.registry.Register(req.Name)
	if err != nil {
		reply.Code = wire.CodeFailure
		reply.ID = 0
		return reply
	}

	reply.Code = wire.CodeOK
	reply.ID = id
	return reply
}

func (h *Handler) search(req *wire.Identity) wire.Record {
	id, presence := h.registry.Find(req.Name)

	return &wire.Identity{
		Op:   wire.TagSearch,
		Code: int32(presence),
		Name: req.Name,
		ID:   id,
	}
}
