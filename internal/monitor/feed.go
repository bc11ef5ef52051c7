package monitor

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rulesmarket/relay/internal/models"
)

// Entry is one row of the activity feed. Purely a rendering convenience;
// nothing here is persisted.
type Entry struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Severity  string `json:"severity"`
	Source    string `json:"source,omitempty"`
}

// Feed is a fixed-capacity deque of feed entries, most-recent-first.
// Push is O(1); the oldest entry is evicted on overflow.
type Feed struct {
	mu       sync.RWMutex
	entries  *list.List
	capacity int
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 1
	}
	return &Feed{
		entries:  list.New(),
		capacity: capacity,
	}
}

func (f *Feed) Push(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries.PushFront(e)
	if f.entries.Len() > f.capacity {
		f.entries.Remove(f.entries.Back())
	}
}

// Entries returns a most-recent-first snapshot.
func (f *Feed) Entries() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Entry, 0, f.entries.Len())
	for el := f.entries.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Entry))
	}
	return out
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entries.Len()
}

// EntryFromEnvelope converts an incoming relay event into a feed entry,
// deriving severity heuristically per event kind.
func EntryFromEnvelope(env models.Envelope) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Kind:      env.Kind,
		Timestamp: env.Timestamp,
		Source:    env.Source,
		Severity:  "low",
	}

	switch env.Kind {
	case models.KindHealthUpdate:
		var health models.APIHealth
		if err := env.Decode(&health); err == nil {
			entry.Title = "API health"
			entry.Message = fmt.Sprintf("%s responded %d", health.Endpoint, health.Status)
			entry.Severity = severityForStatus(health.Status)
		}
	case models.KindNewLog:
		var logEntry models.LogEntry
		if err := env.Decode(&logEntry); err == nil {
			if logEntry.ID != "" {
				entry.ID = logEntry.ID
			}
			entry.Title = "Log entry"
			entry.Message = logEntry.Message
			entry.Severity = severityForLevel(logEntry.Level)
		}
	case models.KindErrorAlert:
		var report models.ErrorReport
		if err := env.Decode(&report); err == nil {
			entry.Title = "Error alert"
			entry.Message = report.Message
			entry.Severity = report.Severity
			if entry.Severity == "" {
				entry.Severity = "high"
			}
		}
	case models.KindStatusUpdate:
		var status models.SystemStatus
		if err := env.Decode(&status); err == nil {
			entry.Title = "System status"
			entry.Message = fmt.Sprintf("%s is %s", status.Component, status.Status)
		}
	case models.KindActivityUpdate:
		var activity models.UserActivity
		if err := env.Decode(&activity); err == nil {
			entry.Title = "User activity"
			entry.Message = activity.Action
		}
	case models.KindAdminBroadcast:
		var msg models.AdminMessage
		if err := env.Decode(&msg); err == nil {
			entry.Title = "Admin message"
			entry.Message = msg.Message
		}
	case models.KindAdminOnline:
		var presence models.AdminPresence
		if err := env.Decode(&presence); err == nil {
			entry.Title = "Admin online"
			entry.Message = presence.SocketID
		}
	case models.KindAdminOffline:
		var presence models.AdminPresence
		if err := env.Decode(&presence); err == nil {
			entry.Title = "Admin offline"
			entry.Message = fmt.Sprintf("%s (%s)", presence.SocketID, presence.Reason)
			entry.Severity = "medium"
		}
	case models.KindSystemStats:
		var stats models.SystemStats
		if err := env.Decode(&stats); err == nil {
			entry.Title = "System stats"
			entry.Message = fmt.Sprintf("%d connected, %d admins", stats.ConnectedClients, stats.AdminClients)
		}
	default:
		entry.Title = env.Kind
	}
	return entry
}

func severityForStatus(status int) string {
	switch {
	case status >= 500:
		return "high"
	case status >= 400:
		return "medium"
	default:
		return "low"
	}
}

func severityForLevel(level string) string {
	switch level {
	case "error", "fatal", "panic":
		return "high"
	case "warn", "warning":
		return "medium"
	default:
		return "low"
	}
}
