package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rulesmarket/relay/internal/auth"
	"github.com/rulesmarket/relay/internal/models"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (*auth.Claims, error) {
	if token != "good-token" {
		return nil, errors.New("signature is invalid")
	}
	return &auth.Claims{Email: "admin@rulesmarket.app", UserID: "operator"}, nil
}

type fakeStore struct {
	appended chan models.LogEntry
}

func (s *fakeStore) Append(_ context.Context, entry models.LogEntry) error {
	s.appended <- entry
	return nil
}

func (s *fakeStore) Recent(_ context.Context, n int) ([]models.LogEntry, error) {
	return nil, nil
}

func (s *fakeStore) HealthCheck() error { return nil }

func newTestHub(recent *fakeStore) (*Hub, *Registry) {
	r := NewRegistry()
	if recent == nil {
		return NewHub(r, nil, fakeVerifier{}, "relay-test", time.Minute), r
	}
	return NewHub(r, recent, fakeVerifier{}, "relay-test", time.Minute), r
}

func mustEnvelope(t *testing.T, kind string, data interface{}) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(kind, data)
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	return env
}

func joinAdmin(t *testing.T, h *Hub, p *fakePeer) {
	t.Helper()
	h.HandleEnvelope(p, mustEnvelope(t, models.KindJoinAdmin, models.JoinAdmin{
		Email: "admin@rulesmarket.app", UserID: "operator", Token: "good-token",
	}))
	p.sent = nil
}

func TestHub_RegisterSendsConnected(t *testing.T) {
	h, _ := newTestHub(nil)
	p := newFakePeer("c1")

	h.Register(p)
	if len(p.sent) != 1 || p.sent[0].Kind != models.KindConnected {
		t.Fatalf("expected a single connected event, got %v", p.kinds())
	}

	var payload models.Connected
	if err := p.sent[0].Decode(&payload); err != nil {
		t.Fatalf("failed to decode connected payload: %v", err)
	}
	if payload.SocketID != "c1" {
		t.Errorf("expected socket id c1, got %v", payload.SocketID)
	}
}

func TestHub_JoinAdmin(t *testing.T) {
	h, r := newTestHub(nil)
	existing := newFakePeer("old")
	h.Register(existing)
	joinAdmin(t, h, existing)

	joiner := newFakePeer("new")
	h.Register(joiner)
	joiner.sent = nil

	h.HandleEnvelope(joiner, mustEnvelope(t, models.KindJoinAdmin, models.JoinAdmin{
		Email: "admin@rulesmarket.app", UserID: "operator", Token: "good-token",
	}))

	if !r.IsAdmin("new") {
		t.Fatal("expected joiner to become an admin-room member")
	}
	// The joiner gets a direct admin-joined, never its own admin-online.
	if got := joiner.kinds(); len(got) != 1 || got[0] != models.KindAdminJoined {
		t.Errorf("expected joiner to receive [admin-joined], got %v", got)
	}
	// Existing members learn about the new admin.
	if got := existing.kinds(); len(got) != 1 || got[0] != models.KindAdminOnline {
		t.Errorf("expected existing member to receive [admin-online], got %v", got)
	}
}

func TestHub_JoinAdminIdempotent(t *testing.T) {
	h, _ := newTestHub(nil)
	other := newFakePeer("other")
	h.Register(other)
	joinAdmin(t, h, other)

	p := newFakePeer("c1")
	h.Register(p)
	joinAdmin(t, h, p)
	other.sent = nil

	// Re-joining acknowledges again but fires no second admin-online.
	h.HandleEnvelope(p, mustEnvelope(t, models.KindJoinAdmin, models.JoinAdmin{
		Email: "admin@rulesmarket.app", UserID: "operator", Token: "good-token",
	}))
	if got := p.kinds(); len(got) != 1 || got[0] != models.KindAdminJoined {
		t.Errorf("expected [admin-joined] on repeated join, got %v", got)
	}
	if len(other.sent) != 0 {
		t.Errorf("expected no admin-online on repeated join, got %v", other.kinds())
	}

	if _, admins := h.Counts(); admins != 2 {
		t.Errorf("expected 2 admins, got %d", admins)
	}
}

func TestHub_JoinAfterDisconnectNotAcknowledged(t *testing.T) {
	h, r := newTestHub(nil)
	p := newFakePeer("c1")
	h.Register(p)
	h.Disconnect(p, "transport error")
	p.sent = nil

	// The join arrives after the disconnect already removed the peer.
	h.HandleEnvelope(p, mustEnvelope(t, models.KindJoinAdmin, models.JoinAdmin{
		Email: "admin@rulesmarket.app", UserID: "operator", Token: "good-token",
	}))

	if len(p.sent) != 0 {
		t.Errorf("a dead connection must not be acknowledged, got %v", p.kinds())
	}
	if r.IsAdmin("c1") {
		t.Error("a dead connection must not hold room membership")
	}
	if _, admins := r.Counts(); admins != 0 {
		t.Errorf("expected 0 admins, got %d", admins)
	}
}

func TestHub_JoinAdminRejectsBadToken(t *testing.T) {
	h, r := newTestHub(nil)
	p := newFakePeer("c1")
	h.Register(p)
	p.sent = nil

	h.HandleEnvelope(p, mustEnvelope(t, models.KindJoinAdmin, models.JoinAdmin{
		Email: "intruder@example.com", Token: "forged",
	}))

	if r.IsAdmin("c1") {
		t.Fatal("peer with a bad token must not join the admin room")
	}
	if got := p.kinds(); len(got) != 1 || got[0] != models.KindErrorAlert {
		t.Fatalf("expected a direct error-alert, got %v", got)
	}
	var report models.ErrorReport
	if err := p.sent[0].Decode(&report); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if report.Severity != "high" {
		t.Errorf("expected severity high, got %v", report.Severity)
	}
}

func TestHub_RelaysToAdminRoomOnly(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		want    string
	}{
		{"system status", models.KindSystemStatus, models.KindStatusUpdate},
		{"api health", models.KindAPIHealth, models.KindHealthUpdate},
		{"user activity", models.KindUserActivity, models.KindActivityUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHub(nil)
			admin := newFakePeer("admin")
			outsider := newFakePeer("outsider")
			sender := newFakePeer("sender")
			h.Register(admin)
			h.Register(outsider)
			h.Register(sender)
			joinAdmin(t, h, admin)
			outsider.sent = nil
			sender.sent = nil

			h.HandleEnvelope(sender, mustEnvelope(t, tt.inbound, models.SystemStatus{
				Component: "api", Status: "healthy",
			}))

			if got := admin.kinds(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("expected admin to receive [%v], got %v", tt.want, got)
			}
			if len(outsider.sent) != 0 {
				t.Errorf("non-member must receive nothing, got %v", outsider.kinds())
			}
			if len(sender.sent) != 0 {
				t.Errorf("non-member sender must receive nothing, got %v", sender.kinds())
			}
		})
	}
}

func TestHub_LogEntryGetsServerID(t *testing.T) {
	store := &fakeStore{appended: make(chan models.LogEntry, 1)}
	h, _ := newTestHub(store)
	admin := newFakePeer("admin")
	h.Register(admin)
	joinAdmin(t, h, admin)

	h.HandleEnvelope(newFakePeer("backend"), mustEnvelope(t, models.KindLogEntry, models.LogEntry{
		Level: "error", Message: "payment gateway timeout", Source: "api",
	}))

	if got := admin.kinds(); len(got) != 1 || got[0] != models.KindNewLog {
		t.Fatalf("expected admin to receive [new-log], got %v", got)
	}
	var entry models.LogEntry
	if err := admin.sent[0].Decode(&entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if entry.ID == "" {
		t.Error("expected a server-assigned log id")
	}
	if entry.Message != "payment gateway timeout" {
		t.Errorf("unexpected message %q", entry.Message)
	}

	select {
	case stored := <-store.appended:
		if stored.ID != entry.ID {
			t.Errorf("stored id %v does not match broadcast id %v", stored.ID, entry.ID)
		}
	case <-time.After(2 * time.Second):
		t.Error("expected the entry to land in the recent-log store")
	}
}

func TestHub_ErrorDefaultsSeverity(t *testing.T) {
	h, _ := newTestHub(nil)
	admin := newFakePeer("admin")
	h.Register(admin)
	joinAdmin(t, h, admin)

	h.HandleEnvelope(newFakePeer("backend"), mustEnvelope(t, models.KindError, models.ErrorReport{
		Message: "unhandled exception",
	}))

	if got := admin.kinds(); len(got) != 1 || got[0] != models.KindErrorAlert {
		t.Fatalf("expected [error-alert], got %v", got)
	}
	var report models.ErrorReport
	if err := admin.sent[0].Decode(&report); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if report.Severity != "high" {
		t.Errorf("expected default severity high, got %v", report.Severity)
	}
}

func TestHub_AdminBroadcastExcludesSender(t *testing.T) {
	h, _ := newTestHub(nil)
	sender := newFakePeer("sender")
	receiver := newFakePeer("receiver")
	h.Register(sender)
	h.Register(receiver)
	joinAdmin(t, h, sender)
	joinAdmin(t, h, receiver)
	sender.sent = nil
	receiver.sent = nil

	h.HandleEnvelope(sender, mustEnvelope(t, models.KindAdminMessage, models.AdminMessage{
		Message: "deploy starting", From: "admin@rulesmarket.app",
	}))

	if len(sender.sent) != 0 {
		t.Errorf("sender must not receive its own broadcast, got %v", sender.kinds())
	}
	if got := receiver.kinds(); len(got) != 1 || got[0] != models.KindAdminBroadcast {
		t.Fatalf("expected receiver to get [admin-broadcast], got %v", got)
	}
	if src := receiver.sent[0].Source; src != "sender" {
		t.Errorf("expected source to carry the sender id, got %q", src)
	}
}

func TestHub_PingPong(t *testing.T) {
	h, _ := newTestHub(nil)
	p := newFakePeer("c1")
	h.Register(p)
	p.sent = nil

	sentAt := time.Now().UnixMilli() - 40
	h.HandleEnvelope(p, mustEnvelope(t, models.KindPing, models.Ping{
		Client: "monitor", Timestamp: sentAt,
	}))

	if got := p.kinds(); len(got) != 1 || got[0] != models.KindPong {
		t.Fatalf("expected a direct pong, got %v", got)
	}
	var pong models.Pong
	if err := p.sent[0].Decode(&pong); err != nil {
		t.Fatalf("failed to decode pong: %v", err)
	}
	if pong.Client != "monitor" || pong.Timestamp != sentAt {
		t.Errorf("pong must echo the ping fields, got %+v", pong)
	}
	if pong.Latency < 0 {
		t.Errorf("latency must never be negative, got %d", pong.Latency)
	}
	if pong.Server != "relay-test" {
		t.Errorf("expected server id relay-test, got %v", pong.Server)
	}
}

func TestHub_PingWithFutureTimestamp(t *testing.T) {
	h, _ := newTestHub(nil)
	p := newFakePeer("c1")
	h.Register(p)
	p.sent = nil

	h.HandleEnvelope(p, mustEnvelope(t, models.KindPing, models.Ping{
		Client: "monitor", Timestamp: time.Now().UnixMilli() + 60_000,
	}))

	var pong models.Pong
	if err := p.sent[0].Decode(&pong); err != nil {
		t.Fatalf("failed to decode pong: %v", err)
	}
	if pong.Latency != 0 {
		t.Errorf("clock skew must clamp latency to 0, got %d", pong.Latency)
	}
}

func TestHub_DisconnectBroadcastsOffline(t *testing.T) {
	h, r := newTestHub(nil)
	leaver := newFakePeer("leaver")
	stayer := newFakePeer("stayer")
	h.Register(leaver)
	h.Register(stayer)
	joinAdmin(t, h, leaver)
	joinAdmin(t, h, stayer)
	stayer.sent = nil

	h.Disconnect(leaver, "transport error")
	if r.IsAdmin("leaver") {
		t.Error("membership must be cleared on disconnect")
	}
	if got := stayer.kinds(); len(got) != 1 || got[0] != models.KindAdminOffline {
		t.Fatalf("expected [admin-offline], got %v", got)
	}

	// A second disconnect for the same peer is a no-op.
	stayer.sent = nil
	h.Disconnect(leaver, "transport error")
	if len(stayer.sent) != 0 {
		t.Errorf("repeated disconnect must not rebroadcast, got %v", stayer.kinds())
	}
}

func TestHub_DisconnectNonAdminSilent(t *testing.T) {
	h, _ := newTestHub(nil)
	admin := newFakePeer("admin")
	visitor := newFakePeer("visitor")
	h.Register(admin)
	h.Register(visitor)
	joinAdmin(t, h, admin)

	h.Disconnect(visitor, "client disconnect")
	if len(admin.sent) != 0 {
		t.Errorf("non-member departure must be silent, got %v", admin.kinds())
	}
}

func TestHub_UnknownKindIgnored(t *testing.T) {
	h, _ := newTestHub(nil)
	admin := newFakePeer("admin")
	h.Register(admin)
	joinAdmin(t, h, admin)

	h.HandleEnvelope(newFakePeer("backend"), mustEnvelope(t, "make-coffee", nil))
	if len(admin.sent) != 0 {
		t.Errorf("unknown kinds must not reach the room, got %v", admin.kinds())
	}
}

func TestHub_FullPeerDropsSilently(t *testing.T) {
	h, _ := newTestHub(nil)
	healthy := newFakePeer("healthy")
	stuck := newFakePeer("stuck")
	h.Register(healthy)
	h.Register(stuck)
	joinAdmin(t, h, healthy)
	joinAdmin(t, h, stuck)
	healthy.sent = nil
	stuck.full = true

	h.HandleEnvelope(newFakePeer("backend"), mustEnvelope(t, models.KindSystemStatus, models.SystemStatus{
		Component: "api", Status: "healthy",
	}))

	if got := healthy.kinds(); len(got) != 1 || got[0] != models.KindStatusUpdate {
		t.Errorf("healthy member must still be served, got %v", got)
	}
	_, dropped := h.Counters()
	if dropped == 0 {
		t.Error("expected the drop counter to advance")
	}
}

func TestHub_StatsBroadcast(t *testing.T) {
	h, _ := newTestHub(nil)
	admin := newFakePeer("admin")
	visitor := newFakePeer("visitor")
	h.Register(admin)
	h.Register(visitor)
	joinAdmin(t, h, admin)
	visitor.sent = nil

	h.broadcastStats()

	if got := admin.kinds(); len(got) != 1 || got[0] != models.KindSystemStats {
		t.Fatalf("expected [system-stats], got %v", got)
	}
	if len(visitor.sent) != 0 {
		t.Errorf("stats are room-only, visitor got %v", visitor.kinds())
	}
	var stats models.SystemStats
	if err := admin.sent[0].Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.ConnectedClients != 2 || stats.AdminClients != 1 {
		t.Errorf("expected counts (2, 1), got (%d, %d)", stats.ConnectedClients, stats.AdminClients)
	}
}
