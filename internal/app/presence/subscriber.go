package presence

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relayd/internal/pkg/logx"
	"relayd/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the subscriber.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// subscribers only send control frames; anything larger is a protocol violation.
	maxMessageSize = 512

	sendBuffer = 64
)

// Subscriber is one WebSocket connection receiving presence events.
type Subscriber struct {
	hub  *Hub
	conn *websocket.Conn

	// a buffered channel of encoded events waiting to be written.
	send chan []byte

	logger zerolog.Logger
}

// NewSubscriber wraps an upgraded connection.
func NewSubscriber(hub *Hub, conn *websocket.Conn) *Subscriber {
	return &Subscriber{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		logger: logx.Component("PresenceSubscriber").With().
			Str("session_id", randx.SessionID()).
			Str("remote", logx.AnonymizeIP(conn.RemoteAddr().String())).
			Logger(),
	}
}

// ReadPump consumes inbound frames to process pings and detect the close, then
// unregisters the subscriber.
func (s *Subscriber) ReadPump() {
	defer func() {
		s.hub.Unregister(s)
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Subscriber connection close error")
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Subscriber read error")
			}
			return
		}
	}
}

// WritePump writes queued events and keeps the connection alive with pings.
func (s *Subscriber) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Subscriber connection close error in WritePump")
		}
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				// hub closed the queue
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Warn().Err(err).Msg("Error writing presence event")
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}
