package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"relayd/internal/app/presence"
	"relayd/internal/pkg/errs"
	"relayd/internal/pkg/logx"
	"relayd/internal/pkg/resp"
)

// HandlePresenceFeed upgrades the request to a WebSocket that streams registry events.
func HandlePresenceFeed(hub *presence.Hub, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		sub := presence.NewSubscriber(hub, conn)
		if !hub.Register(sub) {
			conn.Close()
			return
		}

		go sub.WritePump()

		logx.Info("Presence subscriber connected", "remote", logx.AnonymizeIP(r.RemoteAddr))

		sub.ReadPump()
	}
}
