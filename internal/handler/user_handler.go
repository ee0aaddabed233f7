/*
Package handler provides HTTP handler functions for the read-only admin API.

This file serves the registry views: the list of all users and the presence lookup by name.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"relayd/internal/app/registry"
	"relayd/internal/app/user"
	"relayd/internal/app/wire"
	"relayd/internal/pkg/errs"
	"relayd/internal/pkg/resp"
)

// PresencePayload answers a lookup by name with the same codes as the control channel.
type PresencePayload struct {
	Name     string     `json:"name"`
	ID       int32      `json:"id"`
	Presence int32      `json:"presence"`
	Status   string     `json:"status"`
	User     *user.User `json:"user,omitempty"`
}

// HandleListUsers returns every registered user in registration order.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondList(w, r, deps.Registry.Snapshot())
	}
}

// HandleGetUser looks a user up by name.
func HandleGetUser(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" || len(name) > wire.NameSize {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		payload := PresencePayload{
			Name:     name,
			Presence: int32(registry.NotRegistered),
			Status:   registry.NotRegistered.String(),
		}

		if u, ok := deps.Registry.Lookup(name); ok {
			presence := registry.RegisteredNotConnected
			if u.Connected {
				presence = registry.Connected
			}
			payload.ID = u.ID
			payload.Presence = int32(presence)
			payload.Status = presence.String()
			payload.User = &u
		}

		resp.RespondSuccess(w, r, payload)
	}
}
