package api

import (
	"context"

	"github.com/gofiber/websocket/v2"

	"github.com/hirewire/messaging-service/internal/ws"
)

// handleWS runs for the lifetime of one push-channel connection. The channel
// is authenticated with the same identity as the REST caller; a bad token
// closes it before registration.
func (s *Server) handleWS(conn *websocket.Conn) {
	token := conn.Query("token")
	if token == "" {
		_ = conn.Close()
		return
	}
	userID, err := s.validator.Validate(token)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := ws.NewClient(conn, userID, s.cfg.WS.SendBuffer, s.cfg.WS.RateLimitPerSec)
	s.hub.Register(client)
	if s.presence != nil {
		_ = s.presence.Online(context.Background(), userID)
	}

	go client.WritePump()
	client.ReadPump(
		func() {
			if s.presence != nil {
				_ = s.presence.Refresh(context.Background(), userID)
			}
		},
		func() {
			s.hub.Unregister(client)
			if s.presence != nil && s.hub.ConnectionCount(userID) == 0 {
				_ = s.presence.Offline(context.Background(), userID)
			}
		},
	)
}
