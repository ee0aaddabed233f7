/*
Package wire implements the fixed-layout binary records exchanged on the control (UDP)
and session (TCP) channels.

Every record starts with a 4-byte ASCII operation tag followed by a body whose size is
fixed per tag. Layouts are explicit byte offsets: little-endian fixed-width integers and
NUL-padded fixed-size strings, with no implicit alignment padding.
*/
package wire

import "encoding/binary"

// Tag is the 4-byte operation tag that prefixes every record.
type Tag [4]byte

func (t Tag) String() string {
	return string(t[:])
}

var (
	// TagRegister requests registration of a new user name (control channel).
	TagRegister = Tag{'U', 'D', 'P', 'R'}

	// TagSearch requests the presence of a user by name (control channel).
	TagSearch = Tag{'U', 'D', 'P', 'S'}

	// TagCount requests the number of connected and registered users (control channel).
	TagCount = Tag{'U', 'D', 'P', 'C'}

	// TagLogin opens an authenticated session.
	TagLogin = Tag{'T', 'C', 'P', 'L'}

	// TagMessage carries a direct chat message.
	TagMessage = Tag{'T', 'M', 'S', 'J'}

	// TagAck acknowledges (or rejects) a chat message to its sender.
	TagAck = Tag{'T', 'M', 'S', 'R'}

	// TagFileHeader negotiates and authorizes a file transfer.
	TagFileHeader = Tag{'T', 'C', 'F', 'S'}

	// TagSessionEnd closes the session. It has no body.
	TagSessionEnd = Tag{'T', 'C', 'P', 'E'}
)

const (
	// TagSize is the length of the operation tag.
	TagSize = 4

	// NameSize is the width of the user name field.
	NameSize = 24

	// TextSize is the width of the chat message text field.
	TextSize = 250

	// FileNameSize is the width of the file name field.
	FileNameSize = 50
)

// Result codes carried in the codigo field.
const (
	CodeOK      int32 = 0
	CodeFailure int32 = -1
)

// Presence codes carried in the codigo field of a TagSearch reply.
const (
	PresenceConnected     int32 = 0
	PresenceRegistered    int32 = -1
	PresenceNotRegistered int32 = -2
)

const (
	identityBodySize   = 4 + NameSize + 4
	countsBodySize     = 4 + 4 + 4
	messageBodySize    = 4 + 4 + 4 + TextSize
	ackBodySize        = 4 + 4
	fileHeaderBodySize = 4 + 4 + 4 + FileNameSize + 8
)

var bodySizes = map[Tag]int{
	TagRegister:   identityBodySize,
	TagSearch:     identityBodySize,
	TagLogin:      identityBodySize,
	TagCount:      countsBodySize,
	TagMessage:    messageBodySize,
	TagAck:        ackBodySize,
	TagFileHeader: fileHeaderBodySize,
	TagSessionEnd: 0,
}

// Size returns the full encoded size (tag included) of records carrying tag.
func Size(tag Tag) (int, bool) {
	n, ok := bodySizes[tag]
	if !ok {
		return 0, false
	}
	return TagSize + n, true
}

// Record is implemented by every wire record.
type Record interface {
	Tag() Tag
	encodeBody(b []byte)
	decodeBody(b []byte)
}

// Identity is the shared layout of TagRegister, TagSearch and TagLogin records.
type Identity struct {
	Op   Tag
	Code int32
	Name string
	ID   int32
}

func (r *Identity) Tag() Tag { return r.Op }

func (r *Identity) encodeBody(b []byte) {
	putInt32(b[0:], r.Code)
	putString(b[4:4+NameSize], r.Name)
	putInt32(b[4+NameSize:], r.ID)
}

func (r *Identity) decodeBody(b []byte) {
	r.Code = getInt32(b[0:])
	r.Name = getString(b[4 : 4+NameSize])
	r.ID = getInt32(b[4+NameSize:])
}

// Counts answers a TagCount request.
type Counts struct {
	Code       int32
	Connected  int32
	Registered int32
}

func (r *Counts) Tag() Tag { return TagCount }

func (r *Counts) encodeBody(b []byte) {
	putInt32(b[0:], r.Code)
	putInt32(b[4:], r.Connected)
	putInt32(b[8:], r.Registered)
}

func (r *Counts) decodeBody(b []byte) {
	r.Code = getInt32(b[0:])
	r.Connected = getInt32(b[4:])
	r.Registered = getInt32(b[8:])
}

// Message is a direct chat message between two users.
type Message struct {
	Code     int32
	Sender   int32
	Receiver int32
	Text     string
}

func (r *Message) Tag() Tag { return TagMessage }

func (r *Message) encodeBody(b []byte) {
	putInt32(b[0:], r.Code)
	putInt32(b[4:], r.Sender)
	putInt32(b[8:], r.Receiver)
	putString(b[12:12+TextSize], r.Text)
}

func (r *Message) decodeBody(b []byte) {
	r.Code = getInt32(b[0:])
	r.Sender = getInt32(b[4:])
	r.Receiver = getInt32(b[8:])
	r.Text = getString(b[12 : 12+TextSize])
}

// Ack reports the delivery outcome of a Message to its sender.
type Ack struct {
	Code   int32
	Sender int32
}

func (r *Ack) Tag() Tag { return TagAck }

func (r *Ack) encodeBody(b []byte) {
	putInt32(b[0:], r.Code)
	putInt32(b[4:], r.Sender)
}

func (r *Ack) decodeBody(b []byte) {
	r.Code = getInt32(b[0:])
	r.Sender = getInt32(b[4:])
}

// FileHeader announces a file transfer and, echoed with CodeOK, authorizes it.
type FileHeader struct {
	Code     int32
	Sender   int32
	Receiver int32
	FileName string
	FileSize int64
}

func (r *FileHeader) Tag() Tag { return TagFileHeader }

func (r *FileHeader) encodeBody(b []byte) {
	putInt32(b[0:], r.Code)
	putInt32(b[4:], r.Sender)
	putInt32(b[8:], r.Receiver)
	putString(b[12:12+FileNameSize], r.FileName)
	binary.LittleEndian.PutUint64(b[12+FileNameSize:], uint64(r.FileSize))
}

func (r *FileHeader) decodeBody(b []byte) {
	r.Code = getInt32(b[0:])
	r.Sender = getInt32(b[4:])
	r.Receiver = getInt32(b[8:])
	r.FileName = getString(b[12 : 12+FileNameSize])
	r.FileSize = int64(binary.LittleEndian.Uint64(b[12+FileNameSize:]))
}

// SessionEnd closes a session.
type SessionEnd struct{}

func (r *SessionEnd) Tag() Tag { return TagSessionEnd }

func (r *SessionEnd) encodeBody([]byte) {}

func (r *SessionEnd) decodeBody([]byte) {}

func newRecord(tag Tag) Record {
	switch tag {
	case TagRegister, TagSearch, TagLogin:
		return &Identity{Op: tag}
	case TagCount:
		return &Counts{}
	case TagMessage:
		return &Message{}
	case TagAck:
		return &Ack{}
	case TagFileHeader:
		return &FileHeader{}
	case TagSessionEnd:
		return &SessionEnd{}
	}
	return nil
}

func putInt32(b []byte, v int32) {
	binary.LittleEndian.PutUint32(b, uint32(v))
}

func getInt32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

// putString copies s into the fixed-width field b, truncating and NUL-padding.
func putString(b []byte, s string) {
	n := copy(b, s)
	clear(b[n:])
}

// getString returns the field contents up to the first NUL.
func getString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
