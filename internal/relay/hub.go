package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal/auth"
	"github.com/rulesmarket/relay/internal/models"
	"github.com/rulesmarket/relay/internal/storage"
)

var (
	activeConnectionMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "The number of active connections",
	})
	adminClientsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_admin_clients",
		Help: "The number of admin-room members",
	})
	relayedEventsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_relayed_events_total",
		Help: "The total number of relayed events by kind",
	}, []string{"kind"})
	droppedEventsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_events_total",
		Help: "The total number of events dropped on full or dead peers",
	})
	badEventMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bad_events_total",
		Help: "The total number of malformed or unknown inbound events",
	})
	unauthorizedJoinMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_unauthorized_joins_total",
		Help: "The total number of rejected admin-room join attempts",
	})
)

// Relay table: inbound kind -> room broadcast kind.
var relayKinds = map[string]string{
	models.KindSystemStatus: models.KindStatusUpdate,
	models.KindAPIHealth:    models.KindHealthUpdate,
	models.KindUserActivity: models.KindActivityUpdate,
}

// Hub owns the relay semantics: membership, broadcast fan-out, direct
// replies and the periodic stats tick. Delivery is best-effort, at-most-once;
// there is no acknowledgement, replay or ordering across senders.
type Hub struct {
	registry      *Registry
	recent        storage.Store
	verifier      auth.Verifier
	serverID      string
	statsInterval time.Duration
	startedAt     time.Time

	relayed uint64
	dropped uint64
}

func NewHub(registry *Registry, recent storage.Store, verifier auth.Verifier, serverID string, statsInterval time.Duration) *Hub {
	return &Hub{
		registry:      registry,
		recent:        recent,
		verifier:      verifier,
		serverID:      serverID,
		statsInterval: statsInterval,
		startedAt:     time.Now(),
	}
}

// Register adds the peer and completes the handshake with a connected event.
func (h *Hub) Register(p Peer) {
	log := logrus.WithField("prefix", "Hub.Register")

	h.registry.Add(p)
	activeConnectionMetric.Inc()

	env, err := models.NewEnvelope(models.KindConnected, models.Connected{
		SocketID:  p.ID(),
		Timestamp: models.Now(),
	})
	if err != nil {
		log.Errorf("failed to build connected envelope: %v", err)
		return
	}
	if !h.send(p, env) {
		log.Warnf("connected event dropped for %v", p.ID())
	}
	log.Infof("connection registered: %v", p.ID())
}

// Disconnect removes the peer from the registry and, when it was an
// admin-room member, tells the rest of the room exactly once.
func (h *Hub) Disconnect(p Peer, reason string) {
	log := logrus.WithField("prefix", "Hub.Disconnect")

	existed, wasAdmin := h.registry.Remove(p.ID())
	if !existed {
		return
	}
	activeConnectionMetric.Dec()
	if wasAdmin {
		adminClientsMetric.Dec()
		h.broadcast(models.KindAdminOffline, models.AdminPresence{
			SocketID:  p.ID(),
			Reason:    reason,
			Timestamp: models.Now(),
		}, p.ID(), "")
	}
	log.Infof("connection %v closed: %v", p.ID(), reason)
}

// HandleEnvelope dispatches one inbound event from a peer.
func (h *Hub) HandleEnvelope(p Peer, env models.Envelope) {
	log := logrus.WithField("prefix", "Hub.HandleEnvelope")

	switch env.Kind {
	case models.KindJoinAdmin:
		h.handleJoin(p, env)

	case models.KindSystemStatus, models.KindAPIHealth, models.KindUserActivity:
		h.broadcast(relayKinds[env.Kind], env.Data, "", p.ID())

	case models.KindLogEntry:
		h.handleLogEntry(p, env)

	case models.KindError:
		var report models.ErrorReport
		if err := env.Decode(&report); err != nil {
			badEventMetric.Inc()
			log.Warnf("malformed error payload from %v: %v", p.ID(), err)
			return
		}
		if report.Severity == "" {
			report.Severity = "high"
		}
		report.Timestamp = models.Now()
		h.broadcast(models.KindErrorAlert, report, "", p.ID())

	case models.KindAdminMessage:
		var msg models.AdminMessage
		if err := env.Decode(&msg); err != nil {
			badEventMetric.Inc()
			log.Warnf("malformed admin message from %v: %v", p.ID(), err)
			return
		}
		msg.Timestamp = models.Now()
		h.broadcast(models.KindAdminBroadcast, msg, p.ID(), p.ID())

	case models.KindPing:
		h.handlePing(p, env)

	default:
		badEventMetric.Inc()
		log.Warnf("unknown event kind %q from %v", env.Kind, p.ID())
	}
}

func (h *Hub) handleJoin(p Peer, env models.Envelope) {
	log := logrus.WithField("prefix", "Hub.handleJoin")

	var join models.JoinAdmin
	if err := env.Decode(&join); err != nil {
		badEventMetric.Inc()
		log.Warnf("malformed join payload from %v: %v", p.ID(), err)
		return
	}

	claims, err := h.verifier.Verify(join.Token)
	if err != nil {
		unauthorizedJoinMetric.Inc()
		log.Warnf("rejected join from %v (%v): %v", p.ID(), join.Email, err)
		h.sendDirect(p, models.KindErrorAlert, models.ErrorReport{
			Severity:  "high",
			Message:   "unauthorized: admin room requires a valid join token",
			Source:    h.serverID,
			Timestamp: models.Now(),
		})
		return
	}

	first, member := h.registry.JoinAdmin(p.ID())
	if !member {
		log.Warnf("join from unregistered connection %v ignored", p.ID())
		return
	}
	h.sendDirect(p, models.KindAdminJoined, models.AdminPresence{
		SocketID:  p.ID(),
		Timestamp: models.Now(),
	})
	if !first {
		return
	}
	adminClientsMetric.Inc()
	log.WithFields(logrus.Fields{
		"socket_id": p.ID(),
		"email":     claims.Email,
		"user_id":   claims.UserID,
	}).Info("admin joined")
	h.broadcast(models.KindAdminOnline, models.AdminPresence{
		SocketID:  p.ID(),
		Timestamp: models.Now(),
	}, p.ID(), p.ID())
}

func (h *Hub) handleLogEntry(p Peer, env models.Envelope) {
	log := logrus.WithField("prefix", "Hub.handleLogEntry")

	var entry models.LogEntry
	if err := env.Decode(&entry); err != nil {
		badEventMetric.Inc()
		log.Warnf("malformed log entry from %v: %v", p.ID(), err)
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = models.Now()

	if h.recent != nil {
		go func() {
			log := logrus.WithField("prefix", "Hub.handleLogEntry.recent.Append")
			if err := h.recent.Append(context.Background(), entry); err != nil {
				log.Errorf("store error: %v", err)
			}
		}()
	}
	h.broadcast(models.KindNewLog, entry, "", p.ID())
}

func (h *Hub) handlePing(p Peer, env models.Envelope) {
	var ping models.Ping
	if err := env.Decode(&ping); err != nil {
		badEventMetric.Inc()
		logrus.WithField("prefix", "Hub.handlePing").Warnf("malformed ping from %v: %v", p.ID(), err)
		return
	}
	latency := time.Now().UnixMilli() - ping.Timestamp
	if latency < 0 {
		latency = 0
	}
	h.sendDirect(p, models.KindPong, models.Pong{
		Client:    ping.Client,
		Timestamp: ping.Timestamp,
		Latency:   latency,
		Server:    h.serverID,
	})
}

// RunStats broadcasts system-stats to the admin room until ctx is canceled.
func (h *Hub) RunStats(ctx context.Context) {
	ticker := time.NewTicker(h.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcastStats()
		}
	}
}

func (h *Hub) broadcastStats() {
	total, admins := h.registry.Counts()
	h.broadcast(models.KindSystemStats, models.SystemStats{
		ConnectedClients: total,
		AdminClients:     admins,
		Uptime:           time.Since(h.startedAt).Seconds(),
		Timestamp:        models.Now(),
	}, "", "")
}

// broadcast stamps data and fans it out to the admin room, skipping the
// excluded connection id when set. Undeliverable peers are skipped silently.
func (h *Hub) broadcast(kind string, data interface{}, exclude, source string) {
	log := logrus.WithField("prefix", "Hub.broadcast")

	env, err := models.NewEnvelope(kind, data)
	if err != nil {
		log.Errorf("failed to build %q envelope: %v", kind, err)
		return
	}
	env.Source = source

	relayedEventsMetric.WithLabelValues(kind).Inc()
	atomic.AddUint64(&h.relayed, 1)

	for _, member := range h.registry.Admins() {
		if member.ID() == exclude {
			continue
		}
		h.send(member, env)
	}
}

func (h *Hub) sendDirect(p Peer, kind string, data interface{}) {
	env, err := models.NewEnvelope(kind, data)
	if err != nil {
		logrus.WithField("prefix", "Hub.sendDirect").Errorf("failed to build %q envelope: %v", kind, err)
		return
	}
	env.Source = h.serverID
	h.send(p, env)
}

func (h *Hub) send(p Peer, env models.Envelope) bool {
	if p.TrySend(env) {
		return true
	}
	droppedEventsMetric.Inc()
	atomic.AddUint64(&h.dropped, 1)
	return false
}

// Uptime reports how long the hub has been running.
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// Counters returns the lifetime relayed/dropped event totals.
func (h *Hub) Counters() (relayed, dropped uint64) {
	return atomic.LoadUint64(&h.relayed), atomic.LoadUint64(&h.dropped)
}

// Counts exposes the registry's connection counts for snapshot handlers.
func (h *Hub) Counts() (total, admins int) {
	return h.registry.Counts()
}
