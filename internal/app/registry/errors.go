package registry

import "errors"

var (
	// ErrRegistryFull is returned by Register once the configured capacity is reached.
	ErrRegistryFull = errors.New("registry capacity reached")

	// ErrUnknownUser indicates a login for an id that was never assigned.
	ErrUnknownUser = errors.New("user id does not exist")

	// ErrAlreadyConnected indicates a login for an id that already has a live session.
	ErrAlreadyConnected = errors.New("user already connected")

	// ErrNameMismatch indicates the login name does not match the registered name.
	ErrNameMismatch = errors.New("user name does not match")

	// ErrUnknownSender indicates a relay whose sender id was never assigned.
	ErrUnknownSender = errors.New("sender does not exist")

	// ErrUnknownReceiver indicates a relay whose receiver id was never assigned.
	ErrUnknownReceiver = errors.New("receiver does not exist")

	// ErrReceiverOffline indicates a relay to a receiver without a live session.
	ErrReceiverOffline = errors.New("receiver not connected")

	// ErrSenderOffline indicates a relay from a sender without a live session.
	ErrSenderOffline = errors.New("sender not connected")

	// ErrSenderMismatch indicates a transfer whose sender is not the requesting session's user.
	ErrSenderMismatch = errors.New("sender is not the requesting user")

	// ErrTransferBusy indicates that a participant already holds a transfer lease.
	ErrTransferBusy = errors.New("participant busy with another transfer")

	// ErrSelfTransfer indicates a file transfer whose sender and receiver are the same user.
	ErrSelfTransfer = errors.New("cannot transfer a file to oneself")
)
