package registry

import "relayd/internal/pkg/randx"

// Lease grants one file transfer exclusive use of its two participants.
// While a lease is held, relays to either participant are rejected with ErrTransferBusy
// and no other transfer can involve them; unrelated registry operations proceed.
type Lease struct {
	ID       string
	Sender   int32
	Receiver int32

	// From and To are the participants' handles at the time the lease was granted.
	From Handle
	To   Handle
}

// AcquireLease validates a transfer like Route, then requires that sender is the
// requesting user and that neither participant already holds a lease. Only then is a
// new lease recorded on both records.
func (r *Registry) AcquireLease(requester, sender, receiver int32) (Lease, error) {
	r.mu.Lock()

	src, dst, err := r.validateLocked(sender, receiver)
	if err != nil {
		r.mu.Unlock()
		return Lease{}, err
	}
	if sender != requester {
		r.mu.Unlock()
		return Lease{}, ErrSenderMismatch
	}
	if src == dst {
		r.mu.Unlock()
		return Lease{}, ErrSelfTransfer
	}
	if src.lease != "" || dst.lease != "" {
		r.mu.Unlock()
		return Lease{}, ErrTransferBusy
	}

	l := Lease{
		ID:       randx.LeaseID(),
		Sender:   sender,
		Receiver: receiver,
		From:     src.handle,
		To:       dst.handle,
	}
	src.lease = l.ID
	dst.lease = l.ID

	events := []Event{
		r.eventLocked(EventTransferStarted, src),
		r.eventLocked(EventTransferStarted, dst),
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str("lease_id", l.ID).
		Int32("sender_id", sender).
		Int32("receiver_id", receiver).
		Msg("Transfer lease granted.")
	r.emit(events...)

	return l, nil
}

// ReleaseLease clears l from whichever participants still carry it.
// Records whose session ended (and so lost the lease) are left untouched.
func (r *Registry) ReleaseLease(l Lease) {
	r.mu.Lock()

	var events []Event
	for _, id := range []int32{l.Sender, l.Receiver} {
		if rec, ok := r.records[id]; ok && rec.lease == l.ID {
			rec.lease = ""
			events = append(events, r.eventLocked(EventTransferFinished, rec))
		}
	}
	r.mu.Unlock()

	r.emit(events...)
}

// ActiveLeases returns the number of transfers currently holding a lease.
func (r *Registry) ActiveLeases() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	leases := make(map[string]struct{})
	for _, rec := range r.records {
		if rec.lease != "" {
			leases[rec.lease] = struct{}{}
		}
	}
	return len(leases)
}
