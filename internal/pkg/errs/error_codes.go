/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific validation or system errors in logs and on the admin
API. Wire responses only carry the coarse codigo (0 / -1); the application code explains
which check failed.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrMalformedPacket indicates a record shorter than its fixed layout.
	ErrMalformedPacket = 1008

	// ErrUnknownOperation indicates a record whose operation tag is not recognized.
	ErrUnknownOperation = 1009
)

// 2xxx: Registry, Relay and Transfer Validation Errors
const (
	// ErrRegistryFull indicates that the registry reached its configured capacity.
	ErrRegistryFull = 2101

	// ErrUserNotFound indicates that the requested user id or name is not registered.
	ErrUserNotFound = 2102

	// ErrAlreadyConnected indicates a login for a user that already has a live session.
	ErrAlreadyConnected = 2103

	// ErrNameMismatch indicates a login whose name does not match the registered one.
	ErrNameMismatch = 2104

	// ErrSenderNotFound indicates a relay from an unregistered sender id.
	ErrSenderNotFound = 2201

	// ErrReceiverNotFound indicates a relay to an unregistered receiver id.
	ErrReceiverNotFound = 2202

	// ErrReceiverOffline indicates a relay to a receiver without a live session.
	ErrReceiverOffline = 2203

	// ErrSenderOffline indicates a relay from a sender without a live session.
	ErrSenderOffline = 2204

	// ErrSenderMismatch indicates a relay whose sender id is not the session's own user.
	ErrSenderMismatch = 2205

	// ErrTransferBusy indicates that a participant is already part of a file transfer.
	ErrTransferBusy = 2301

	// ErrSelfTransfer indicates a file transfer addressed to its own sender.
	ErrSelfTransfer = 2302

	// ErrInvalidFileSize indicates a file header with a negative size.
	ErrInvalidFileSize = 2303
)

// 3xxx: Session Errors
const (
	// ErrLoginRequired indicates that the first record of a session was not a login.
	ErrLoginRequired = 3001
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrTransferFailed indicates a file transfer aborted by a transport error.
	ErrTransferFailed = 5001

	// ErrArchiveFailed indicates that archiving a transferred file failed.
	ErrArchiveFailed = 5002
)
