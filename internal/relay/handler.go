package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal/utils"
)

// Handler upgrades /relay/events requests to websocket connections and wires
// them into the hub.
type Handler struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	realIP    *utils.RealIPExtractor
	queueSize int
	writeWait time.Duration
}

func NewHandler(hub *Hub, allowedOrigins []string, extractor *utils.RealIPExtractor, queueSize int, writeWait time.Duration) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return utils.OriginAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
		realIP:    extractor,
		queueSize: queueSize,
		writeWait: writeWait,
	}
}

// EventsHandler is the relay's single bidirectional endpoint. The HTTP
// request lives as long as the websocket session.
func (h *Handler) EventsHandler(c echo.Context) error {
	log := logrus.WithField("prefix", "EventsHandler")

	// Upgrade replies to the client itself on failure; writing again here
	// would hit an already committed response.
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Errorf("upgrade failed: %v", err)
		return nil
	}

	conn := NewConn(ws, h.queueSize, h.writeWait)
	log.WithFields(logrus.Fields{
		"socket_id": conn.ID(),
		"remote_ip": h.realIP.Extract(c.Request()),
		"origin":    utils.ExtractOrigin(c.Request().Header.Get("Origin")),
	}).Info("connection opened")

	h.hub.Register(conn)
	go conn.WritePump()

	reason := conn.ReadPump(h.hub)
	h.hub.Disconnect(conn, reason)
	return nil
}
