package handler

import (
	"net/http"

	"relayd/internal/app/chat"
	"relayd/internal/pkg/resp"
)

// StatsPayload aggregates registry and relay counters.
type StatsPayload struct {
	Connected           int        `json:"connected"`
	Registered          int        `json:"registered"`
	Capacity            int        `json:"capacity"`
	ActiveTransfers     int        `json:"activeTransfers"`
	PresenceSubscribers int        `json:"presenceSubscribers"`
	Relay               chat.Stats `json:"relay"`
}

// HandleStats reports the current counters.
func HandleStats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connected, registered := deps.Registry.Counts()

		payload := StatsPayload{
			Connected:       connected,
			Registered:      registered,
			Capacity:        deps.Registry.Capacity(),
			ActiveTransfers: deps.Registry.ActiveLeases(),
		}
		if deps.Chat != nil {
			payload.Relay = deps.Chat.Stats()
		}
		if deps.Hub != nil {
			payload.PresenceSubscribers = deps.Hub.Subscribers()
		}

		resp.RespondSuccess(w, r, payload)
	}
}
