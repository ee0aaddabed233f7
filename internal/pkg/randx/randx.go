/*
Package randx provides generators for the opaque identifiers used by the server.

Session ids, transfer lease ids and archive object keys are all UUID v4 based.
*/
package randx

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// SessionIDPrefix is prepended to every session id so they are easy to spot in logs.
const SessionIDPrefix = "sess_"

// SessionID generates a unique identifier for one accepted connection.
func SessionID() string {
	return SessionIDPrefix + uuid.New().String()
}

// LeaseID generates a unique identifier for one file transfer lease.
func LeaseID() string {
	return uuid.New().String()
}

// ArchiveKey builds the object key for an archived transfer:
// <prefix>/<leaseID>/<sanitized file name>.
func ArchiveKey(prefix, leaseID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}

	key := fmt.Sprintf("%s/%s", leaseID, name)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}
