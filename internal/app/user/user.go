/*
Package user contains the read-only representation of a registered user.

Snapshots are copied out of the registry under its lock and are safe to hand to the
admin API and the presence feed; they never alias registry state.
*/
package user

import "time"

// User is a point-in-time view of one registry record.
type User struct {

	// ID is the sequential, 1-based identifier assigned at registration.
	ID int32 `json:"id"`

	// Name is the registered user name, stored verbatim.
	Name string `json:"name"`

	// Connected reports whether a session is currently logged in with this ID.
	Connected bool `json:"connected"`

	// Endpoint is the peer address captured at login (empty when disconnected).
	Endpoint string `json:"endpoint,omitempty"`

	// Transferring reports whether the user takes part in an active file transfer.
	Transferring bool `json:"transferring"`

	// RegisteredAt is the time the record was created.
	RegisteredAt time.Time `json:"registeredAt"`

	// ConnectedAt is the time of the current session's login.
	ConnectedAt time.Time `json:"connectedAt,omitzero"`
}
