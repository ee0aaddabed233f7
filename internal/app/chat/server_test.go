package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayd/internal/app/registry"
	"relayd/internal/app/wire"
)

const ioTimeout = 5 * time.Second

type testServer struct {
	srv  *Server
	reg  *registry.Registry
	addr string
	done chan error
}

func startServer(t *testing.T, cfg Config, opts ...registry.Option) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{
		reg:  registry.New(opts...),
		addr: ln.Addr().String(),
		done: make(chan error, 1),
	}
	ts.srv = NewServer(ts.reg, cfg)

	go func() { ts.done <- ts.srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		defer cancel()
		_ = ts.srv.Shutdown(ctx)
	})

	return ts
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", ts.addr, ioTimeout)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(ioTimeout)))
	t.Cleanup(func() { conn.Close() })

	return conn
}

// connect registers name and logs a fresh connection in as that user.
func (ts *testServer) connect(t *testing.T, name string) (net.Conn, int32) {
	t.Helper()

	id, err := ts.reg.Register(name)
	require.NoError(t, err)

	conn := ts.dial(t)
	send(t, conn, &wire.Identity{Op: wire.TagLogin, Name: name, ID: id})

	reply := receive(t, conn).(*wire.Identity)
	require.Equal(t, wire.CodeOK, reply.Code)

	return conn, id
}

func send(t *testing.T, conn net.Conn, rec wire.Record) {
	t.Helper()
	require.NoError(t, wire.WriteRecord(conn, rec))
}

func receive(t *testing.T, conn net.Conn) wire.Record {
	t.Helper()
	rec, err := wire.ReadRecord(conn)
	require.NoError(t, err)
	return rec
}

func assertClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestLoginEchoesRecord(t *testing.T) {
	ts := startServer(t, Config{})

	id, err := ts.reg.Register("JONA")
	require.NoError(t, err)
	require.Equal(t, int32(1), id)

	conn := ts.dial(t)
	send(t, conn, &wire.Identity{Op: wire.TagLogin, Code: 0, Name: "JONA", ID: 1})

	reply, ok := receive(t, conn).(*wire.Identity)
	require.True(t, ok)
	assert.Equal(t, wire.TagLogin, reply.Op)
	assert.Equal(t, wire.CodeOK, reply.Code)
	assert.Equal(t, "JONA", reply.Name)
	assert.Equal(t, int32(1), reply.ID)
	assert.True(t, ts.reg.IsConnected(1))

	u, ok := ts.reg.Lookup("JONA")
	require.True(t, ok)
	assert.Equal(t, conn.LocalAddr().String(), u.Endpoint)

	// A second session for the same user is refused and closed.
	other := ts.dial(t)
	send(t, other, &wire.Identity{Op: wire.TagLogin, Name: "JONA", ID: 1})

	reply = receive(t, other).(*wire.Identity)
	assert.Equal(t, wire.CodeFailure, reply.Code)
	assertClosed(t, other)
	assert.True(t, ts.reg.IsConnected(1))
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name string
		req  wire.Record
	}{
		{name: "unknown id", req: &wire.Identity{Op: wire.TagLogin, Name: "ANA", ID: 7}},
		{name: "wrong name", req: &wire.Identity{Op: wire.TagLogin, Name: "ANNA", ID: 1}},
		{name: "message before login", req: &wire.Message{Sender: 1, Receiver: 1, Text: "hi"}},
		{name: "search tag", req: &wire.Identity{Op: wire.TagSearch, Name: "ANA"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := startServer(t, Config{})
			_, err := ts.reg.Register("ANA")
			require.NoError(t, err)

			conn := ts.dial(t)
			send(t, conn, tt.req)

			reply, ok := receive(t, conn).(*wire.Identity)
			require.True(t, ok)
			assert.Equal(t, wire.TagLogin, reply.Op)
			assert.Equal(t, wire.CodeFailure, reply.Code)
			assertClosed(t, conn)
		})
	}
}

func TestLoginUnknownTagIsRejected(t *testing.T) {
	ts := startServer(t, Config{})

	conn := ts.dial(t)
	_, err := conn.Write([]byte("ABCD"))
	require.NoError(t, err)

	reply := receive(t, conn).(*wire.Identity)
	assert.Equal(t, wire.CodeFailure, reply.Code)
	assertClosed(t, conn)
}

func TestLoginShortReadClosesWithoutReply(t *testing.T) {
	ts := startServer(t, Config{})

	conn := ts.dial(t)
	_, err := conn.Write([]byte("TCPL\x00\x00"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	n, err := conn.Read(make([]byte, 64))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMessageRelay(t *testing.T) {
	ts := startServer(t, Config{})
	alice, a := ts.connect(t, "alice")
	bob, b := ts.connect(t, "bob")

	send(t, alice, &wire.Message{Code: 5, Sender: a, Receiver: b, Text: "hola"})

	msg, ok := receive(t, bob).(*wire.Message)
	require.True(t, ok)
	assert.Equal(t, wire.CodeOK, msg.Code)
	assert.Equal(t, a, msg.Sender)
	assert.Equal(t, b, msg.Receiver)
	assert.Equal(t, "hola", msg.Text)

	ack, ok := receive(t, alice).(*wire.Ack)
	require.True(t, ok)
	assert.Equal(t, wire.CodeOK, ack.Code)
	assert.Equal(t, a, ack.Sender)

	assert.Equal(t, int64(1), ts.srv.Stats().MessagesRelayed)
}

func TestMessageRejections(t *testing.T) {
	tests := []struct {
		name  string
		build func(a, b, offline int32) *wire.Message
	}{
		{name: "unknown sender", build: func(a, b, _ int32) *wire.Message {
			return &wire.Message{Sender: 99, Receiver: b, Text: "x"}
		}},
		{name: "unknown receiver", build: func(a, _, _ int32) *wire.Message {
			return &wire.Message{Sender: a, Receiver: 42, Text: "x"}
		}},
		{name: "receiver offline", build: func(a, _, offline int32) *wire.Message {
			return &wire.Message{Sender: a, Receiver: offline, Text: "x"}
		}},
		{name: "sender is not the session user", build: func(_, b, _ int32) *wire.Message {
			return &wire.Message{Sender: b, Receiver: b, Text: "x"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := startServer(t, Config{})
			alice, a := ts.connect(t, "alice")
			bob, b := ts.connect(t, "bob")
			offline, err := ts.reg.Register("carol")
			require.NoError(t, err)

			req := tt.build(a, b, offline)
			send(t, alice, req)

			ack, ok := receive(t, alice).(*wire.Ack)
			require.True(t, ok)
			assert.Equal(t, wire.CodeFailure, ack.Code)
			assert.Equal(t, req.Sender, ack.Sender)

			// Nothing reached bob.
			require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
			_, err = bob.Read(make([]byte, 1))
			var netErr net.Error
			require.True(t, errors.As(err, &netErr))
			assert.True(t, netErr.Timeout())
		})
	}
}

func TestFileTransfer(t *testing.T) {
	archiver := newFakeArchiver()
	ts := startServer(t, Config{Archiver: archiver, ArchivePrefix: "transfers"})
	alice, a := ts.connect(t, "alice")
	bob, b := ts.connect(t, "bob")

	payload := bytes.Repeat([]byte("0123456789"), 250)
	hdr := &wire.FileHeader{Sender: a, Receiver: b, FileName: "notes.txt", FileSize: int64(len(payload))}
	send(t, alice, hdr)

	toBob, ok := receive(t, bob).(*wire.FileHeader)
	require.True(t, ok)
	assert.Equal(t, wire.CodeOK, toBob.Code)
	assert.Equal(t, "notes.txt", toBob.FileName)
	assert.Equal(t, int64(2500), toBob.FileSize)

	toAlice, ok := receive(t, alice).(*wire.FileHeader)
	require.True(t, ok)
	assert.Equal(t, wire.CodeOK, toAlice.Code)

	_, err := alice.Write(payload)
	require.NoError(t, err)

	got := make([]byte, len(payload))
	_, err = io.ReadFull(bob, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The sender's stream is still framed after the payload.
	send(t, alice, &wire.Message{Sender: a, Receiver: b, Text: "done"})
	msg := receive(t, bob).(*wire.Message)
	assert.Equal(t, "done", msg.Text)
	ack := receive(t, alice).(*wire.Ack)
	assert.Equal(t, wire.CodeOK, ack.Code)

	select {
	case up := <-archiver.uploads:
		assert.Equal(t, payload, up.data)
		assert.Equal(t, int64(2500), up.size)
		assert.Contains(t, up.key, "transfers/")
		assert.Contains(t, up.key, "/notes.txt")
		assert.NoError(t, up.err)
	case <-time.After(ioTimeout):
		t.Fatal("archive upload not received")
	}

	assert.Eventually(t, func() bool { return ts.reg.ActiveLeases() == 0 }, ioTimeout, 10*time.Millisecond)

	stats := ts.srv.Stats()
	assert.Equal(t, int64(1), stats.TransfersCompleted)
	assert.Equal(t, int64(2500), stats.BytesRelayed)
}

// brokenHandle is a logged-in session whose connection can no longer be written.
type brokenHandle struct{}

func (brokenHandle) SessionID() string { return "sess_broken" }

func (brokenHandle) Send(wire.Record) error { return net.ErrClosed }

func (brokenHandle) Exclusive(func(w io.Writer) error) error { return net.ErrClosed }

func TestMessageToUnwritableReceiverIsRejected(t *testing.T) {
	ts := startServer(t, Config{})
	alice, a := ts.connect(t, "alice")

	ghost, err := ts.reg.Register("ghost")
	require.NoError(t, err)
	require.NoError(t, ts.reg.Login(ghost, "ghost", nil, brokenHandle{}))

	send(t, alice, &wire.Message{Sender: a, Receiver: ghost, Text: "anyone?"})

	ack, ok := receive(t, alice).(*wire.Ack)
	require.True(t, ok)
	assert.Equal(t, wire.CodeFailure, ack.Code)
	assert.Equal(t, a, ack.Sender)

	stats := ts.srv.Stats()
	assert.Zero(t, stats.MessagesRelayed)
	assert.Equal(t, int64(1), stats.MessagesRejected)

	// A transfer to the same receiver fails before any payload is requested.
	send(t, alice, &wire.FileHeader{Sender: a, Receiver: ghost, FileName: "f", FileSize: 8})
	hdr := receive(t, alice).(*wire.FileHeader)
	assert.Equal(t, wire.CodeFailure, hdr.Code)

	assert.Eventually(t, func() bool { return ts.reg.ActiveLeases() == 0 }, ioTimeout, 10*time.Millisecond)
	assert.Equal(t, int64(1), ts.srv.Stats().TransfersFailed)
	assert.True(t, ts.reg.IsConnected(a))
}

func TestReceiverDisconnectMidTransfer(t *testing.T) {
	ts := startServer(t, Config{})
	alice, a := ts.connect(t, "alice")
	bob, b := ts.connect(t, "bob")
	carol, c := ts.connect(t, "carol")

	payload := bytes.Repeat([]byte{0xAB}, 4<<20)
	send(t, alice, &wire.FileHeader{Sender: a, Receiver: b, FileName: "big.bin", FileSize: int64(len(payload))})

	toBob := receive(t, bob).(*wire.FileHeader)
	require.Equal(t, wire.CodeOK, toBob.Code)
	require.NoError(t, bob.Close())

	toAlice := receive(t, alice).(*wire.FileHeader)
	require.Equal(t, wire.CodeOK, toAlice.Code)

	// The whole payload is consumed even though nobody reads it.
	_, err := alice.Write(payload)
	require.NoError(t, err)

	send(t, alice, &wire.Message{Sender: a, Receiver: c, Text: "after"})
	msg := receive(t, carol).(*wire.Message)
	assert.Equal(t, "after", msg.Text)
	ack := receive(t, alice).(*wire.Ack)
	assert.Equal(t, wire.CodeOK, ack.Code)

	assert.Eventually(t, func() bool { return ts.reg.ActiveLeases() == 0 }, ioTimeout, 10*time.Millisecond)
	assert.Equal(t, int64(1), ts.srv.Stats().TransfersFailed)
	assert.Zero(t, ts.srv.Stats().TransfersCompleted)
	assert.True(t, ts.reg.IsConnected(a))
}

func TestForgedTransferHeaderLeasesNobody(t *testing.T) {
	var (
		mu      sync.Mutex
		started []int32
	)
	ts := startServer(t, Config{}, registry.WithObserver(func(ev registry.Event) {
		if ev.Type == registry.EventTransferStarted {
			mu.Lock()
			started = append(started, ev.User.ID)
			mu.Unlock()
		}
	}))
	mallory, _ := ts.connect(t, "mallory")
	bob, b := ts.connect(t, "bob")
	carol, c := ts.connect(t, "carol")

	send(t, mallory, &wire.FileHeader{Sender: b, Receiver: c, FileName: "f", FileSize: 4})
	reply := receive(t, mallory).(*wire.FileHeader)
	assert.Equal(t, wire.CodeFailure, reply.Code)

	assert.Zero(t, ts.reg.ActiveLeases())
	mu.Lock()
	assert.Empty(t, started)
	mu.Unlock()

	// bob and carol are free to transfer between themselves.
	send(t, bob, &wire.FileHeader{Sender: b, Receiver: c, FileName: "f", FileSize: 4})
	toCarol := receive(t, carol).(*wire.FileHeader)
	require.Equal(t, wire.CodeOK, toCarol.Code)
	toBob := receive(t, bob).(*wire.FileHeader)
	require.Equal(t, wire.CodeOK, toBob.Code)

	_, err := bob.Write([]byte("ping"))
	require.NoError(t, err)
	got := make([]byte, 4)
	_, err = io.ReadFull(carol, got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	assert.Eventually(t, func() bool { return ts.reg.ActiveLeases() == 0 }, ioTimeout, 10*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []int32{b, c}, started)
	mu.Unlock()
}

func TestFileTransferRejections(t *testing.T) {
	ts := startServer(t, Config{})
	alice, a := ts.connect(t, "alice")
	_, b := ts.connect(t, "bob")
	carol, err := ts.reg.Register("carol")
	require.NoError(t, err)

	tests := []struct {
		name string
		hdr  *wire.FileHeader
	}{
		{name: "negative size", hdr: &wire.FileHeader{Sender: a, Receiver: b, FileName: "f", FileSize: -1}},
		{name: "receiver offline", hdr: &wire.FileHeader{Sender: a, Receiver: carol, FileName: "f", FileSize: 10}},
		{name: "unknown sender", hdr: &wire.FileHeader{Sender: 99, Receiver: b, FileName: "f", FileSize: 10}},
		{name: "self transfer", hdr: &wire.FileHeader{Sender: a, Receiver: a, FileName: "f", FileSize: 10}},
		{name: "sender is not the session user", hdr: &wire.FileHeader{Sender: b, Receiver: a, FileName: "f", FileSize: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, alice, tt.hdr)

			reply, ok := receive(t, alice).(*wire.FileHeader)
			require.True(t, ok)
			assert.Equal(t, wire.CodeFailure, reply.Code)
			assert.Equal(t, tt.hdr.Sender, reply.Sender)
			assert.Equal(t, tt.hdr.FileSize, reply.FileSize)
		})
	}

	assert.Eventually(t, func() bool { return ts.reg.ActiveLeases() == 0 }, ioTimeout, 10*time.Millisecond)
}

func TestLeasedReceiverIsBusy(t *testing.T) {
	ts := startServer(t, Config{})
	alice, a := ts.connect(t, "alice")
	_, b := ts.connect(t, "bob")
	_, c := ts.connect(t, "carol")

	lease, err := ts.reg.AcquireLease(c, c, b)
	require.NoError(t, err)

	send(t, alice, &wire.Message{Sender: a, Receiver: b, Text: "busy?"})
	ack := receive(t, alice).(*wire.Ack)
	assert.Equal(t, wire.CodeFailure, ack.Code)

	send(t, alice, &wire.FileHeader{Sender: a, Receiver: b, FileName: "f", FileSize: 1})
	hdr := receive(t, alice).(*wire.FileHeader)
	assert.Equal(t, wire.CodeFailure, hdr.Code)

	ts.reg.ReleaseLease(lease)

	send(t, alice, &wire.Message{Sender: a, Receiver: b, Text: "now"})
	ack = receive(t, alice).(*wire.Ack)
	assert.Equal(t, wire.CodeOK, ack.Code)
}

func TestUnknownTagLogout(t *testing.T) {
	ts := startServer(t, Config{})
	alice, a := ts.connect(t, "alice")

	_, err := alice.Write([]byte("ZZZZ"))
	require.NoError(t, err)

	assertClosed(t, alice)
	assert.Eventually(t, func() bool { return !ts.reg.IsConnected(a) }, ioTimeout, 10*time.Millisecond)
}

func TestUnknownTagIgnore(t *testing.T) {
	ts := startServer(t, Config{UnknownTagPolicy: UnknownTagIgnore})
	alice, a := ts.connect(t, "alice")
	bob, b := ts.connect(t, "bob")

	_, err := alice.Write([]byte("ZZZZ"))
	require.NoError(t, err)
	// A known record that has no meaning after login is skipped whole.
	send(t, alice, &wire.Identity{Op: wire.TagRegister, Name: "mallory"})
	send(t, alice, &wire.Message{Sender: a, Receiver: b, Text: "still here"})

	msg := receive(t, bob).(*wire.Message)
	assert.Equal(t, "still here", msg.Text)
	ack := receive(t, alice).(*wire.Ack)
	assert.Equal(t, wire.CodeOK, ack.Code)
	assert.True(t, ts.reg.IsConnected(a))
}

func TestSessionEnd(t *testing.T) {
	ts := startServer(t, Config{})
	alice, a := ts.connect(t, "alice")

	send(t, alice, &wire.SessionEnd{})

	assertClosed(t, alice)
	assert.Eventually(t, func() bool { return !ts.reg.IsConnected(a) }, ioTimeout, 10*time.Millisecond)

	// The user can log in again from a new connection.
	conn := ts.dial(t)
	send(t, conn, &wire.Identity{Op: wire.TagLogin, Name: "alice", ID: a})
	reply := receive(t, conn).(*wire.Identity)
	assert.Equal(t, wire.CodeOK, reply.Code)
}

func TestDisconnectLogsOut(t *testing.T) {
	ts := startServer(t, Config{})
	alice, a := ts.connect(t, "alice")

	require.NoError(t, alice.Close())
	assert.Eventually(t, func() bool { return !ts.reg.IsConnected(a) }, ioTimeout, 10*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	ts := startServer(t, Config{})
	alice, _ := ts.connect(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))

	select {
	case err := <-ts.done:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(ioTimeout):
		t.Fatal("Serve did not return")
	}

	assertClosed(t, alice)
	assert.Zero(t, ts.srv.Stats().ActiveSessions)

	_, err := net.DialTimeout("tcp", ts.addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestParseUnknownTagPolicy(t *testing.T) {
	p, err := ParseUnknownTagPolicy("")
	require.NoError(t, err)
	assert.Equal(t, UnknownTagLogout, p)

	p, err = ParseUnknownTagPolicy("ignore")
	require.NoError(t, err)
	assert.Equal(t, UnknownTagIgnore, p)

	_, err = ParseUnknownTagPolicy("drop")
	assert.Error(t, err)
}

type upload struct {
	key  string
	size int64
	data []byte
	err  error
}

type fakeArchiver struct {
	uploads chan upload
}

func newFakeArchiver() *fakeArchiver {
	return &fakeArchiver{uploads: make(chan upload, 4)}
}

func (f *fakeArchiver) Archive(_ context.Context, key string, size int64, body io.Reader) error {
	data, err := io.ReadAll(body)
	f.uploads <- upload{key: key, size: size, data: data, err: err}
	return err
}
