package monitor

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal/client"
	"github.com/rulesmarket/relay/internal/models"
)

// ErrNotConnected is returned by manual send actions while the monitor
// believes it is disconnected.
var ErrNotConnected = errors.New("monitor: relay not connected")

// feedKinds are the relay output events rendered into the activity feed.
var feedKinds = []string{
	models.KindStatusUpdate,
	models.KindHealthUpdate,
	models.KindActivityUpdate,
	models.KindNewLog,
	models.KindErrorAlert,
	models.KindAdminBroadcast,
	models.KindAdminOnline,
	models.KindAdminOffline,
	models.KindSystemStats,
	models.KindDisconnected,
}

// Monitor ties a relay client to a bounded activity feed: it joins the admin
// room, appends every incoming room event to the feed and exposes the manual
// test-event actions.
type Monitor struct {
	client *client.Client
	feed   *Feed
	email  string
	userID string
	subs   []client.Subscription

	// OnEntry, when set, observes each entry after it lands in the feed.
	OnEntry func(Entry)
}

func New(c *client.Client, feed *Feed, email, userID string) *Monitor {
	return &Monitor{
		client: c,
		feed:   feed,
		email:  email,
		userID: userID,
	}
}

// Start connects, subscribes the feed to every relay output event and joins
// the admin room with the given join token.
func (m *Monitor) Start(ctx context.Context, token string) error {
	if err := m.client.Connect(ctx); err != nil {
		return err
	}
	for _, kind := range feedKinds {
		m.subs = append(m.subs, m.client.On(kind, m.append))
	}
	m.client.JoinAdminRoom(m.email, m.userID, token)
	return nil
}

// Stop tears down the connection. The feed stays as-is; nothing is flushed
// or persisted.
func (m *Monitor) Stop() {
	for _, sub := range m.subs {
		m.client.Off(sub)
	}
	m.subs = nil
	m.client.Disconnect()
}

func (m *Monitor) append(env models.Envelope) {
	entry := EntryFromEnvelope(env)
	m.feed.Push(entry)
	if m.OnEntry != nil {
		m.OnEntry(entry)
	}
}

// Feed returns the backing activity feed.
func (m *Monitor) Feed() *Feed {
	return m.feed
}

// Connected reports whether manual actions are currently available.
func (m *Monitor) Connected() bool {
	return m.client.IsConnected()
}

func (m *Monitor) SendAdminMessage(message string) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	m.client.SendAdminMessage(message, m.email)
	return nil
}

func (m *Monitor) SendUserActivity(action, details string) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	m.client.SendUserActivity(models.UserActivity{
		UserID:  m.userID,
		Action:  action,
		Details: details,
	})
	return nil
}

func (m *Monitor) SendError(severity, message string) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	m.client.SendError(severity, message, m.email)
	return nil
}

// Ping sends a latency probe; the pong lands in the feed subscribers.
func (m *Monitor) Ping() error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	m.client.Ping(m.userID)
	return nil
}

// LogFeedEntry is a convenience renderer for terminal front-ends.
func LogFeedEntry(e Entry) {
	logrus.WithFields(logrus.Fields{
		"kind":     e.Kind,
		"severity": e.Severity,
		"source":   e.Source,
	}).Info(e.Title + ": " + e.Message)
}
