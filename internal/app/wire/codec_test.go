package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSizes(t *testing.T) {
	tests := []struct {
		tag  Tag
		size int
	}{
		{TagRegister, 36},
		{TagSearch, 36},
		{TagLogin, 36},
		{TagCount, 16},
		{TagMessage, 266},
		{TagAck, 12},
		{TagFileHeader, 74},
		{TagSessionEnd, 4},
	}

	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			size, ok := Size(tt.tag)
			require.True(t, ok)
			assert.Equal(t, tt.size, size)
		})
	}

	_, ok := Size(Tag{'X', 'X', 'X', 'X'})
	assert.False(t, ok)
}

func TestEncodeLoginLayout(t *testing.T) {
	buf, err := Encode(&Identity{Op: TagLogin, Code: CodeFailure, Name: "JONA", ID: 7})
	require.NoError(t, err)
	require.Len(t, buf, 36)

	assert.Equal(t, []byte("TCPL"), buf[0:4])
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, []byte("JONA"), buf[8:12])
	assert.Equal(t, make([]byte, 20), buf[12:32], "name field must be NUL-padded")
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[32:36]))
}

func TestEncodeFileHeaderIsPacked(t *testing.T) {
	buf, err := Encode(&FileHeader{Sender: 1, Receiver: 2, FileName: "notes.txt", FileSize: 2500})
	require.NoError(t, err)
	require.Len(t, buf, 74)

	assert.Equal(t, []byte("TCFS"), buf[0:4])
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[12:16]))
	assert.Equal(t, []byte("notes.txt"), buf[16:25])
	assert.Equal(t, uint64(2500), binary.LittleEndian.Uint64(buf[66:74]))
}

func TestDecodeRoundTripsEachRecordKind(t *testing.T) {
	records := []Record{
		&Identity{Op: TagRegister, Name: "ana"},
		&Identity{Op: TagSearch, Code: PresenceRegistered, Name: "bob", ID: 3},
		&Counts{Connected: 1, Registered: 4},
		&Message{Sender: 1, Receiver: 2, Text: "hola"},
		&Ack{Code: CodeOK, Sender: 1},
		&FileHeader{Code: CodeOK, Sender: 1, Receiver: 2, FileName: "a.bin", FileSize: 1 << 40},
		&SessionEnd{},
	}

	for _, rec := range records {
		t.Run(rec.Tag().String(), func(t *testing.T) {
			buf, err := Encode(rec)
			require.NoError(t, err)

			got, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestDecodeShortPacket(t *testing.T) {
	_, err := Decode([]byte("UD"))
	assert.ErrorIs(t, err, ErrShortPacket)

	buf, err := Encode(&Identity{Op: TagRegister, Name: "ana"})
	require.NoError(t, err)

	_, err = Decode(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := Decode([]byte("ZZZZ0000"))
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	buf, err := Encode(&Identity{Op: TagRegister, Name: "ana"})
	require.NoError(t, err)

	rec, err := Decode(append(buf, 0xAA, 0xBB))
	require.NoError(t, err)
	assert.Equal(t, "ana", rec.(*Identity).Name)
}

func TestStringFieldsTruncateAndStopAtNUL(t *testing.T) {
	long := strings.Repeat("x", NameSize+10)
	buf, err := Encode(&Identity{Op: TagLogin, Name: long})
	require.NoError(t, err)

	rec, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", NameSize), rec.(*Identity).Name)

	copy(buf[8:], "ab\x00cd")
	rec, err = Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", rec.(*Identity).Name)
}

func TestReadRecordFromStream(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, WriteRecord(&stream, &Message{Sender: 1, Receiver: 2, Text: "hi"}))
	require.NoError(t, WriteRecord(&stream, &SessionEnd{}))

	rec, err := ReadRecord(&stream)
	require.NoError(t, err)
	assert.Equal(t, &Message{Sender: 1, Receiver: 2, Text: "hi"}, rec)

	rec, err = ReadRecord(&stream)
	require.NoError(t, err)
	assert.Equal(t, &SessionEnd{}, rec)

	_, err = ReadRecord(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadBodyTruncated(t *testing.T) {
	buf, err := Encode(&Ack{Code: CodeOK, Sender: 9})
	require.NoError(t, err)

	r := bytes.NewReader(buf[:len(buf)-3])
	tag, err := ReadTag(r)
	require.NoError(t, err)
	assert.Equal(t, TagAck, tag)

	_, err = ReadBody(r, tag)
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestReadTagTruncated(t *testing.T) {
	_, err := ReadTag(bytes.NewReader([]byte("TC")))
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestEncodeRejectsMissingTag(t *testing.T) {
	_, err := Encode(&Identity{Name: "ana"})
	assert.ErrorIs(t, err, ErrUnknownTag)
}
