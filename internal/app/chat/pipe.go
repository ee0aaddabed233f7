package chat

import (
	"errors"
	"fmt"
	"io"

	"relayd/internal/app/registry"
	"relayd/internal/app/wire"
	"relayd/internal/pkg/errs"
	"relayd/internal/pkg/randx"
)

var (
	errSourceRead = errors.New("read from sender")
	errSinkWrite  = errors.New("write to receiver")

	errTransferAborted = errors.New("transfer aborted")
)

// transfer runs the file-transfer pipe with this session as the sender.
// A non-nil return ends the sender's session.
func (s *session) transfer(hdr *wire.FileHeader) error {
	if hdr.FileSize < 0 {
		s.rejectTransfer(hdr, errs.NewError(errs.ErrInvalidFileSize))
		return nil
	}

	lease, err := s.srv.registry.AcquireLease(s.userID, hdr.Sender, hdr.Receiver)
	if err != nil {
		s.rejectTransfer(hdr, err)
		return nil
	}
	defer s.srv.registry.ReleaseLease(lease)

	logger := s.logger.With().
		Str("lease_id", lease.ID).
		Int32("receiver_id", hdr.Receiver).
		Str("file_name", hdr.FileName).
		Int64("file_size", hdr.FileSize).
		Logger()

	accepted := *hdr
	accepted.Code = wire.CodeOK

	var (
		archive   *archiveUpload
		announced bool
		relayed   int64
		fatal     error
	)

	err = lease.To.Exclusive(func(w io.Writer) error {
		if err := wire.WriteRecord(w, &accepted); err != nil {
			return fmt.Errorf("%w: %w", errSinkWrite, err)
		}
		if err := s.peer.Send(&accepted); err != nil {
			fatal = err
			return err
		}
		announced = true

		archive = s.startArchive(lease, hdr)

		var tee io.Writer
		if archive != nil {
			tee = archive
		}

		n, err := relayChunks(w, s.conn, hdr.FileSize, s.srv.cfg.ChunkSize, tee)
		relayed = n
		if errors.Is(err, errSourceRead) {
			fatal = err
		}
		return err
	})

	if archive != nil {
		cause := err
		if cause != nil {
			cause = fmt.Errorf("%w: %w", errTransferAborted, err)
		}
		if aerr := archive.finish(cause); aerr != nil && cause == nil {
			logger.Warn().Err(aerr).Int("error_code", errs.ErrArchiveFailed).Msg("File archival failed.")
		}
	}

	if err == nil {
		s.srv.stats.transfersCompleted.Add(1)
		s.srv.stats.bytesRelayed.Add(relayed)
		logger.Info().Msg("File transfer completed.")
		return nil
	}

	if !announced && fatal == nil {
		logger.Warn().Err(err).Msg("Receiver unreachable, transfer rejected.")
		s.rejectTransfer(hdr, errs.NewError(errs.ErrTransferFailed))
		return nil
	}

	s.srv.stats.transfersFailed.Add(1)

	if !announced {
		logger.Warn().Err(fatal).Msg("Failed to authorize sender.")
		return fatal
	}

	if fatal != nil {
		logger.Warn().Err(fatal).Int64("relayed", relayed).Msg("File transfer failed reading from sender.")
		return fatal
	}

	// The receiver is gone; consume the rest so the sender's stream stays framed.
	logger.Warn().Err(err).Int64("relayed", relayed).Msg("File transfer failed writing to receiver.")
	if _, derr := io.CopyN(io.Discard, s.conn, hdr.FileSize-relayed); derr != nil {
		return fmt.Errorf("%w: drain: %w", errSourceRead, derr)
	}
	return nil
}

func (s *session) rejectTransfer(hdr *wire.FileHeader, cause error) {
	s.srv.stats.transfersFailed.Add(1)

	s.logger.Info().
		Int("error_code", errs.Code(cause)).
		Int32("sender_id", hdr.Sender).
		Int32("receiver_id", hdr.Receiver).
		Int64("file_size", hdr.FileSize).
		Msg("File transfer rejected.")

	reply := *hdr
	reply.Code = wire.CodeFailure
	if err := s.peer.Send(&reply); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send transfer rejection.")
	}
}

// relayChunks copies exactly size bytes from src to dst, reading full chunks of chunkSize
// (the last one truncated) and issuing one Write per chunk. Every chunk is also written
// to tee when it is set; tee errors are ignored.
// It returns the number of bytes consumed from src. Errors wrap errSourceRead or
// errSinkWrite.
func relayChunks(dst io.Writer, src io.Reader, size int64, chunkSize int, tee io.Writer) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	buf := make([]byte, chunkSize)
	var consumed int64

	for consumed < size {
		n := int64(chunkSize)
		if remaining := size - consumed; remaining < n {
			n = remaining
		}
		chunk := buf[:n]

		if _, err := io.ReadFull(src, chunk); err != nil {
			return consumed, fmt.Errorf("%w: %w", errSourceRead, err)
		}
		consumed += n

		if tee != nil {
			_, _ = tee.Write(chunk)
		}

		w, err := dst.Write(chunk)
		if err == nil && w != len(chunk) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return consumed, fmt.Errorf("%w: %w", errSinkWrite, err)
		}
	}

	return consumed, nil
}

// archiveUpload streams one transfer to the archiver through an in-memory pipe.
type archiveUpload struct {
	pw     *io.PipeWriter
	done   chan error
	failed error
}

// startArchive begins an upload of the transfer, or returns nil when archival is off.
func (s *session) startArchive(lease registry.Lease, hdr *wire.FileHeader) *archiveUpload {
	archiver := s.srv.cfg.Archiver
	if archiver == nil {
		return nil
	}

	pr, pw := io.Pipe()
	a := &archiveUpload{pw: pw, done: make(chan error, 1)}
	key := randx.ArchiveKey(s.srv.cfg.ArchivePrefix, lease.ID, hdr.FileName)

	go func() {
		err := archiver.Archive(s.srv.ctx, key, hdr.FileSize, pr)
		// Unblock the relay if the archiver stopped reading early.
		if err != nil {
			pr.CloseWithError(err)
		} else {
			pr.Close()
		}
		a.done <- err
	}()

	return a
}

// Write forwards p to the archive. It never fails; the first error is kept and later
// chunks are dropped.
func (a *archiveUpload) Write(p []byte) (int, error) {
	if a.failed != nil {
		return len(p), nil
	}
	if _, err := a.pw.Write(p); err != nil {
		a.failed = err
	}
	return len(p), nil
}

// finish ends the stream, aborting the upload when cause is set, and waits for the
// archiver to return.
func (a *archiveUpload) finish(cause error) error {
	if cause != nil {
		a.pw.CloseWithError(cause)
	} else {
		a.pw.Close()
	}

	err := <-a.done
	if err == nil {
		err = a.failed
	}
	return err
}
