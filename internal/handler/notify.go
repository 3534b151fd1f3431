package handler

import (
	"log/slog"

	"github.com/dukerupert/vitisco/internal/store"
	"github.com/dukerupert/vitisco/internal/websocket"
)

// Notifier stores user notifications and pushes them, together with balance
// changes, to the user's connected devices.
type Notifier struct {
	store  *store.NotificationStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewNotifier(ns *store.NotificationStore, hub *websocket.Hub, logger *slog.Logger) *Notifier {
	return &Notifier{store: ns, hub: hub, logger: logger}
}

// Notify records a notification. Failures are logged, never returned: the
// action that triggered the notification has already succeeded.
func (n *Notifier) Notify(userID int64, kind, message string) {
	note, err := n.store.Create(userID, kind, message)
	if err != nil {
		n.logger.Error("create notification", "user_id", userID, "kind", kind, "error", err)
		return
	}
	n.send(userID, websocket.NewMessage("notification", "created", note.ID, note))
}

// PointsChanged tells the user's devices about a new balance.
func (n *Notifier) PointsChanged(userID int64, points, xp int) {
	n.send(userID, websocket.NewMessage("points", "changed", userID, map[string]int{
		"points":   points,
		"xpPoints": xp,
	}))
}

// Broadcast sends a catalog event to every connected client.
func (n *Notifier) Broadcast(msg websocket.Message) {
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
}

func (n *Notifier) send(userID int64, msg websocket.Message) {
	if n.hub != nil {
		n.hub.SendToUser(userID, msg)
	}
}
