package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/vitisco/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and runs it as a Hub
// client bound to the caller's user id.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			// Mobile clients send no Origin header.
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warn("websocket accept", "user_id", userID, "error", err)
			return
		}
		defer conn.CloseNow()

		logger.Debug("websocket connected", "user_id", userID)
		NewClient(hub, conn, userID).Run(r.Context())
		logger.Debug("websocket disconnected", "user_id", userID)
	}
}
