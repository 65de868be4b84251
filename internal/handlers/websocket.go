package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
	"github.com/sirupsen/logrus"
)

const (
	maxMessageSize  = 1 << 20
	presenceTimeout = 5 * time.Second
)

// PresenceStore records which connection currently owns a peer id. Leave
// must only remove the record while connID still owns it.
type PresenceStore interface {
	Join(ctx context.Context, rec models.PeerPresence) error
	Leave(ctx context.Context, id models.PeerID, connID string) (bool, error)
	Lookup(ctx context.Context, id models.PeerID) (*models.PeerPresence, error)
	Online(ctx context.Context) ([]models.PeerID, error)
}

// Relay accepts peer connections and forwards envelopes between them.
type Relay struct {
	registry *registry.Registry
	presence PresenceStore
	secret   string
	socket   config.SocketConfig
	upgrader websocket.Upgrader
	log      *logrus.Entry

	// presenceLocks orders presence writes per peer id
	presenceLocks keyedMutex
}

// NewRelay builds a relay around reg. A nil presence keeps presence in
// memory only.
func NewRelay(reg *registry.Registry, presence PresenceStore, secret string, socket config.SocketConfig, log *logrus.Logger) *Relay {
	if presence == nil {
		presence = newMemoryPresence()
	}
	return &Relay{
		registry: reg,
		presence: presence,
		secret:   secret,
		socket:   socket,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
		log: log.WithField("mod", "relay"),
	}
}

// connection is the relay side of one peer's websocket.
type connection struct {
	id     models.PeerID
	connID string
	remote string
	conn   *websocket.Conn
	outbox *registry.Outbox
	relay  *Relay
	log    *logrus.Entry

	closeOnce sync.Once
}

// HandleSignaling authenticates and upgrades a peer connection, registers it
// and starts its read and write loops.
func (r *Relay) HandleSignaling(c *gin.Context) {
	id, err := Authenticate(c.Request.URL.Query(), r.secret)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"remote": c.ClientIP(),
			"peer":   c.Query("id"),
		}).WithError(err).Warn("rejected signaling connection")
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.WithError(err).WithField("peer", id).Error("failed to upgrade connection")
		return
	}

	cc := &connection{
		id:     id,
		connID: uuid.New().String(),
		remote: conn.RemoteAddr().String(),
		conn:   conn,
		outbox: registry.NewOutbox(),
		relay:  r,
	}
	cc.log = r.log.WithFields(logrus.Fields{
		"peer":   id,
		"conn":   cc.connID,
		"remote": cc.remote,
	})

	if r.registry.Register(id, cc.outbox) {
		cc.log.Info("displaced previous connection")
	}
	cc.log.Info("peer connected")

	r.joinPresence(cc)

	go cc.writePump()
	go cc.readPump()
}

// readPump routes every decodable envelope to its recipient. Frames that do
// not decode are dropped.
func (cc *connection) readPump() {
	defer cc.close()

	cc.conn.SetReadLimit(maxMessageSize)
	cc.conn.SetReadDeadline(time.Now().Add(cc.relay.socket.PongWait))
	cc.conn.SetPongHandler(func(string) error {
		cc.conn.SetReadDeadline(time.Now().Add(cc.relay.socket.PongWait))
		return nil
	})

	for {
		messageType, message, err := cc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				cc.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			cc.log.Debug("dropped non-text frame")
			continue
		}

		env, err := models.Decode(message)
		if err != nil {
			cc.log.WithError(err).Debug("dropped undecodable envelope")
			continue
		}

		if !cc.relay.registry.Send(env.To, message) {
			cc.log.WithFields(logrus.Fields{"to": env.To, "kind": env.Data.Kind}).Debug("recipient not connected, dropped")
			continue
		}
		cc.log.WithFields(logrus.Fields{"to": env.To, "kind": env.Data.Kind}).Debug("routed envelope")
	}
}

// writePump writes queued envelopes in order and pings the peer. A Closed
// signal ends the connection without writing anything further.
func (cc *connection) writePump() {
	ticker := time.NewTicker(cc.relay.socket.PingInterval)
	defer func() {
		ticker.Stop()
		cc.conn.Close()
	}()

	for {
		select {
		case <-cc.outbox.Ready():
			for _, sig := range cc.outbox.Drain() {
				if sig.Kind == registry.SignalClosed {
					cc.log.Info("connection superseded, closing")
					return
				}
				cc.conn.SetWriteDeadline(time.Now().Add(cc.relay.socket.WriteWait))
				if err := cc.conn.WriteMessage(websocket.TextMessage, sig.Payload); err != nil {
					cc.log.WithError(err).Warn("failed to write message")
					return
				}
			}

		case <-cc.outbox.Done():
			return

		case <-ticker.C:
			cc.conn.SetWriteDeadline(time.Now().Add(cc.relay.socket.WriteWait))
			if err := cc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close releases the registration and the socket. Safe to call more than
// once.
func (cc *connection) close() {
	cc.closeOnce.Do(func() {
		cc.relay.registry.Unregister(cc.id, cc.outbox)
		cc.outbox.Close()
		cc.conn.Close()

		cc.relay.leavePresence(cc)
		cc.log.Info("peer disconnected")
	})
}

// joinPresence records cc as the holder of its id. Writes for one id are
// serialized and only the current registry owner may write, so a displaced
// connection finishing late cannot overwrite its successor's record.
func (r *Relay) joinPresence(cc *connection) {
	unlock := r.presenceLocks.Lock(cc.id)
	defer unlock()

	if owner, ok := r.registry.Lookup(cc.id); !ok || owner != cc.outbox {
		cc.log.Debug("superseded before presence was recorded")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	err := r.presence.Join(ctx, models.PeerPresence{
		ID:          cc.id,
		ConnID:      cc.connID,
		RemoteAddr:  cc.remote,
		ConnectedAt: time.Now().UTC(),
	})
	if err != nil {
		cc.log.WithError(err).Warn("failed to record presence")
	}
}

// leavePresence clears the record if cc still holds it.
func (r *Relay) leavePresence(cc *connection) {
	unlock := r.presenceLocks.Lock(cc.id)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if _, err := r.presence.Leave(ctx, cc.id, cc.connID); err != nil {
		cc.log.WithError(err).Warn("failed to clear presence")
	}
}
