/*
Package registry holds the single shared table of user records.

Every operation takes one exclusive lock for its full duration, so registry mutations from
session workers and the control channel are totally ordered. The lock guards registry state
only: blocking network I/O never happens while it is held. File transfers are coordinated
through leases recorded on the participating records instead of by holding the lock.

All lookups are linear in the number of registered users, which is bounded by the
configured capacity.
*/
package registry

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relayd/internal/app/user"
	"relayd/internal/app/wire"
	"relayd/internal/pkg/logx"
)

// DefaultCapacity is the maximum number of users when no capacity is configured.
const DefaultCapacity = 100

// Handle is the live connection handle of a logged-in session.
// The registry only stores and hands out handles; it never writes to them.
type Handle interface {
	// SessionID identifies the session that owns the connection.
	SessionID() string

	// Send writes one complete record to the connection.
	Send(rec wire.Record) error

	// Exclusive runs fn with the connection writer while no other write can interleave.
	Exclusive(fn func(w io.Writer) error) error
}

// Presence is the result of a lookup by name.
type Presence int32

const (
	Connected              Presence = Presence(wire.PresenceConnected)
	RegisteredNotConnected Presence = Presence(wire.PresenceRegistered)
	NotRegistered          Presence = Presence(wire.PresenceNotRegistered)
)

func (p Presence) String() string {
	switch p {
	case Connected:
		return "connected"
	case RegisteredNotConnected:
		return "registered"
	default:
		return "not_registered"
	}
}

// record is the registry-owned state of one user.
type record struct {
	id           int32
	name         string
	connected    bool
	endpoint     net.Addr
	handle       Handle
	lease        string
	registeredAt time.Time
	connectedAt  time.Time
}

func (rec *record) snapshot() user.User {
	u := user.User{
		ID:           rec.id,
		Name:         rec.name,
		Connected:    rec.connected,
		Transferring: rec.lease != "",
		RegisteredAt: rec.registeredAt,
	}
	if rec.connected {
		u.ConnectedAt = rec.connectedAt
		if rec.endpoint != nil {
			u.Endpoint = rec.endpoint.String()
		}
	}
	return u
}

// Option configures a Registry.
type Option func(*Registry)

// WithCapacity sets the maximum number of registrations. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithObserver installs fn to receive change events. fn is called after the registry
// lock is released and must not block. Events of concurrent operations may reach fn
// out of order; Event.Seq gives their commit order.
func WithObserver(fn func(Event)) Option {
	return func(r *Registry) {
		r.observer = fn
	}
}

// Registry is the shared user table and the only gateway to its mutation.
type Registry struct {
	// mu serializes every registry operation.
	mu sync.Mutex

	// records maps ids to records; ids are never reused.
	records map[int32]*record

	// order keeps ids in registration order for name scans.
	order []int32

	// nextID is the id assigned by the next registration.
	nextID int32

	// seq numbers emitted events.
	seq uint64

	capacity int
	observer func(Event)

	logger zerolog.Logger
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		records:  make(map[int32]*record),
		nextID:   1,
		capacity: DefaultCapacity,
		logger:   logx.Component("Registry"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Capacity returns the configured maximum number of registrations.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Register appends a new, disconnected record and returns its id.
func (r *Registry) Register(name string) (int32, error) {
	r.mu.Lock()

	if len(r.order) >= r.capacity {
		r.mu.Unlock()
		r.logger.Warn().Str("name", name).Int("capacity", r.capacity).Msg("Registration rejected: registry is full.")
		return 0, ErrRegistryFull
	}

	rec := &record{
		id:           r.nextID,
		name:         name,
		registeredAt: time.Now(),
	}
	r.records[rec.id] = rec
	r.order = append(r.order, rec.id)
	r.nextID++

	ev := r.eventLocked(EventRegistered, rec)
	r.mu.Unlock()

	r.logger.Info().Int32("user_id", rec.id).Str("name", name).Msg("User registered.")
	r.emit(ev)

	return rec.id, nil
}

// Login attaches a live session to the record with the given id.
// It fails if the id is unknown, the record is already connected, or name does not
// byte-match the registered name, checked in that order.
func (r *Registry) Login(id int32, name string, endpoint net.Addr, h Handle) error {
	r.mu.Lock()

	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownUser
	}
	if rec.connected {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	if rec.name != name {
		r.mu.Unlock()
		return ErrNameMismatch
	}

	rec.connected = true
	rec.endpoint = endpoint
	rec.handle = h
	rec.connectedAt = time.Now()

	ev := r.eventLocked(EventConnected, rec)
	r.mu.Unlock()

	r.emit(ev)
	return nil
}

// Logout detaches whatever session is attached to id.
func (r *Registry) Logout(id int32) {
	r.logout(id, nil)
}

// LogoutHandle detaches the session only while h is still the handle attached to id.
// It reports whether a logout happened.
func (r *Registry) LogoutHandle(id int32, h Handle) bool {
	if h == nil {
		return false
	}
	return r.logout(id, h)
}

func (r *Registry) logout(id int32, h Handle) bool {
	r.mu.Lock()

	rec, ok := r.records[id]
	if !ok || !rec.connected || (h != nil && rec.handle != h) {
		r.mu.Unlock()
		return false
	}

	rec.connected = false
	rec.endpoint = nil
	rec.handle = nil
	rec.lease = ""
	rec.connectedAt = time.Time{}

	ev := r.eventLocked(EventDisconnected, rec)
	r.mu.Unlock()

	r.emit(ev)
	return true
}

// Find scans by name and returns the first matching id with its presence.
// The id is 0 when the name was never registered.
func (r *Registry) Find(name string) (int32, Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findLocked(name)
	if rec == nil {
		return 0, NotRegistered
	}
	if rec.connected {
		return rec.id, Connected
	}
	return rec.id, RegisteredNotConnected
}

// Lookup returns a snapshot of the first record registered under name.
func (r *Registry) Lookup(name string) (user.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findLocked(name)
	if rec == nil {
		return user.User{}, false
	}
	return rec.snapshot(), true
}

func (r *Registry) findLocked(name string) *record {
	for _, id := range r.order {
		if rec := r.records[id]; rec.name == name {
			return rec
		}
	}
	return nil
}

// Exists reports whether id was ever assigned.
func (r *Registry) Exists(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.records[id]
	return ok
}

// IsConnected reports whether id has a live session.
func (r *Registry) IsConnected(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	return ok && rec.connected
}

// HandleOf returns the live session handle of id, or nil.
func (r *Registry) HandleOf(id int32) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok && rec.connected {
		return rec.handle
	}
	return nil
}

// Counts returns the number of connected and registered users.
func (r *Registry) Counts() (connected, registered int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.connected {
			connected++
		}
	}
	return connected, len(r.order)
}

// Snapshot returns every record in registration order.
func (r *Registry) Snapshot() []user.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]user.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, r.records[id].snapshot())
	}
	return users
}

// Route validates a relay from sender to receiver and returns both live handles.
// Checks run in order, first failure wins: sender exists, receiver exists, receiver
// connected, sender connected, receiver not inside a file transfer.
func (r *Registry) Route(sender, receiver int32) (from, to Handle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, dst, err := r.validateLocked(sender, receiver)
	if err != nil {
		return nil, nil, err
	}
	if dst.lease != "" {
		return nil, nil, ErrTransferBusy
	}

	return src.handle, dst.handle, nil
}

func (r *Registry) validateLocked(sender, receiver int32) (src, dst *record, err error) {
	src, ok := r.records[sender]
	if !ok {
		return nil, nil, ErrUnknownSender
	}
	dst, ok = r.records[receiver]
	if !ok {
		return nil, nil, ErrUnknownReceiver
	}
	if !dst.connected {
		return nil, nil, ErrReceiverOffline
	}
	if !src.connected {
		return nil, nil, ErrSenderOffline
	}
	return src, dst, nil
}

func (r *Registry) emit(events ...Event) {
	if r.observer == nil {
		return
	}
	for _, ev := range events {
		r.observer(ev)
	}
}
