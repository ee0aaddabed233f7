package wire

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrShortPacket indicates fewer bytes were available than the record's fixed size.
	// Callers treat it as a transport error.
	ErrShortPacket = errors.New("short packet")

	// ErrUnknownTag indicates an operation tag outside the record table.
	ErrUnknownTag = errors.New("unknown operation tag")
)

// Encode returns the wire representation of rec.
func Encode(rec Record) ([]byte, error) {
	size, ok := Size(rec.Tag())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, rec.Tag().String())
	}

	buf := make([]byte, size)
	tag := rec.Tag()
	copy(buf[:TagSize], tag[:])
	rec.encodeBody(buf[TagSize:])

	return buf, nil
}

// Decode parses a complete record (typically a datagram) from buf.
// Bytes beyond the record's fixed size are ignored.
func Decode(buf []byte) (Record, error) {
	if len(buf) < TagSize {
		return nil, fmt.Errorf("%w: %d bytes, need a %d-byte tag", ErrShortPacket, len(buf), TagSize)
	}

	var tag Tag
	copy(tag[:], buf[:TagSize])

	size, ok := Size(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag.String())
	}
	if len(buf) < size {
		return nil, fmt.Errorf("%w: %s record has %d bytes, need %d", ErrShortPacket, tag, len(buf), size)
	}

	rec := newRecord(tag)
	rec.decodeBody(buf[TagSize:size])

	return rec, nil
}

// ReadTag reads the next operation tag from a stream.
// It returns io.EOF untouched when the stream ends cleanly before the tag.
func ReadTag(r io.Reader) (Tag, error) {
	var tag Tag
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return tag, fmt.Errorf("%w: truncated tag", ErrShortPacket)
		}
		return tag, err
	}
	return tag, nil
}

// ReadBody reads the fixed-size body that follows tag on a stream.
func ReadBody(r io.Reader, tag Tag) (Record, error) {
	size, ok := Size(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag.String())
	}

	rec := newRecord(tag)
	body := make([]byte, size-TagSize)
	if len(body) == 0 {
		return rec, nil
	}

	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s body: %v", ErrShortPacket, tag, err)
		}
		return nil, err
	}

	rec.decodeBody(body)
	return rec, nil
}

// ReadRecord reads one complete record from a stream.
func ReadRecord(r io.Reader) (Record, error) {
	tag, err := ReadTag(r)
	if err != nil {
		return nil, err
	}
	return ReadBody(r, tag)
}

// WriteRecord encodes rec and writes it with a single Write call.
func WriteRecord(w io.Writer, rec Record) error {
	buf, err := Encode(rec)
	if err != nil {
		return err
	}

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
