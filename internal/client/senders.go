package client

import (
	"time"

	"github.com/rulesmarket/relay/internal/models"
)

// Typed senders: thin shape-enforcing wrappers over Emit.

// JoinAdminRoom requests admin-room membership with a server-issued join
// token. The server replies admin-joined directly on success.
func (c *Client) JoinAdminRoom(email, userID, token string) {
	c.Emit(models.KindJoinAdmin, models.JoinAdmin{
		Email:  email,
		UserID: userID,
		Token:  token,
	})
}

func (c *Client) SendSystemStatus(status models.SystemStatus) {
	c.Emit(models.KindSystemStatus, status)
}

func (c *Client) SendAPIHealth(health models.APIHealth) {
	c.Emit(models.KindAPIHealth, health)
}

func (c *Client) SendUserActivity(activity models.UserActivity) {
	c.Emit(models.KindUserActivity, activity)
}

func (c *Client) SendLogEntry(level, message, source string) {
	c.Emit(models.KindLogEntry, models.LogEntry{
		Level:   level,
		Message: message,
		Source:  source,
	})
}

func (c *Client) SendError(severity, message, source string) {
	c.Emit(models.KindError, models.ErrorReport{
		Severity: severity,
		Message:  message,
		Source:   source,
	})
}

func (c *Client) SendAdminMessage(message, from string) {
	c.Emit(models.KindAdminMessage, models.AdminMessage{
		Message: message,
		From:    from,
	})
}

// Ping requests a direct pong carrying the round-trip latency.
func (c *Client) Ping(clientName string) {
	c.Emit(models.KindPing, models.Ping{
		Client:    clientName,
		Timestamp: time.Now().UnixMilli(),
	})
}
