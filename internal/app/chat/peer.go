package chat

import (
	"io"
	"net"
	"sync"

	"relayd/internal/app/wire"
	"relayd/internal/pkg/randx"
)

// Peer is the live handle of one accepted connection. Reads are done only by the
// owning session; writes from any session go through Send or Exclusive, which never
// interleave.
type Peer struct {
	id   string
	conn net.Conn

	// wmu serializes writes to conn.
	wmu sync.Mutex
}

func newPeer(conn net.Conn) *Peer {
	return &Peer{
		id:   randx.SessionID(),
		conn: conn,
	}
}

// SessionID returns the identifier of the session owning the connection.
func (p *Peer) SessionID() string {
	return p.id
}

// RemoteAddr returns the remote network address of the connection.
func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// Send writes one complete record.
func (p *Peer) Send(rec wire.Record) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	return wire.WriteRecord(p.conn, rec)
}

// Exclusive runs fn with the raw connection writer; other writers wait until fn returns.
func (p *Peer) Exclusive(fn func(w io.Writer) error) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	return fn(p.conn)
}
