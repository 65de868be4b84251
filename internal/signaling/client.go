// Package signaling implements the peer side of the relay protocol: one
// websocket to the relay, inbound envelopes dispatched to a Handler and
// outbound envelopes written from an internal queue.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/queue"
)

const (
	writeWait      = 10 * time.Second
	closeWait      = time.Second
	maxMessageSize = 1 << 20
)

var (
	ErrNotConnected     = errors.New("signaling client is not connected")
	ErrAlreadyConnected = errors.New("signaling client is already connected")
	ErrClosed           = errors.New("signaling connection closed")
)

// Handler receives the signals addressed to this peer. Calls are made from
// the client's read loop one at a time, so a handler must not block on the
// relay; sending from a handler is fine since sends only enqueue.
type Handler interface {
	OnOffer(from models.PeerID, offer webrtc.SessionDescription)
	OnAnswer(from models.PeerID, answer webrtc.SessionDescription)
	OnICECandidate(from models.PeerID, candidate webrtc.ICECandidateInit)
}

type outgoing struct {
	to   models.PeerID
	data models.Payload
}

// Client is a signaling connection to the relay.
type Client struct {
	settings config.SignalingSettings
	dialer   *websocket.Dialer
	log      *logrus.Entry

	mu       sync.Mutex
	session  *session
	dialing  bool
	lastFrom models.PeerID
}

// session is one live websocket. A reconnect gets a fresh session.
type session struct {
	conn      *websocket.Conn
	outbox    *queue.Queue[outgoing]
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(settings config.SignalingSettings, log *logrus.Logger) *Client {
	return &Client{
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: log.WithFields(logrus.Fields{"mod": "signaling", "peer": settings.ID}),
	}
}

// ID is the peer id this client registers under.
func (c *Client) ID() models.PeerID {
	return c.settings.ID
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.settings.Server)
	if err != nil {
		return "", fmt.Errorf("invalid signaling server %q: %w", c.settings.Server, err)
	}
	q := u.Query()
	q.Set("id", c.settings.ID)
	q.Set("secret", c.settings.Secret)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the relay and starts the read and write loops. It returns
// once the connection is ready to send. Connect may be called again after
// the previous connection has ended.
func (c *Client) Connect(ctx context.Context, handler Handler) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.dialing || (c.session != nil && !c.session.closed()) {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.dialing = true
	c.mu.Unlock()

	// The lock is not held while dialing so sends and LastTo never wait on
	// the handshake.
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = false
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to %s (status %d): %w", c.settings.Server, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", c.settings.Server, err)
	}

	s := &session{
		conn:   conn,
		outbox: queue.New[outgoing](),
		done:   make(chan struct{}),
	}
	c.session = s
	c.lastFrom = ""

	go c.writeLoop(s)
	go c.readLoop(s, handler)

	c.log.WithField("server", c.settings.Server).Info("connected to relay")
	return nil
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Done is closed when the current connection ends. Before the first Connect
// it is already closed.
func (c *Client) Done() <-chan struct{} {
	s := c.current()
	if s == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.done
}

// Close ends the current connection, if any.
func (c *Client) Close() error {
	s := c.current()
	if s == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	s.shutdown()
	return nil
}

// LastTo returns the sender of the most recent inbound envelope on the
// current connection. Locally gathered ICE candidates are addressed to it;
// until something has been received there is no one to address.
func (c *Client) LastTo() (models.PeerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFrom, c.lastFrom != ""
}

func (c *Client) setLastFrom(s *session, id models.PeerID) {
	if id == "" {
		return
	}
	c.mu.Lock()
	if c.session == s {
		c.lastFrom = id
	}
	c.mu.Unlock()
}

func (c *Client) SendOffer(to models.PeerID, offer webrtc.SessionDescription) error {
	return c.send(to, models.KindOffer, offer)
}

func (c *Client) SendAnswer(to models.PeerID, answer webrtc.SessionDescription) error {
	return c.send(to, models.KindAnswer, answer)
}

func (c *Client) SendICECandidate(to models.PeerID, candidate webrtc.ICECandidateInit) error {
	return c.send(to, models.KindCandidate, candidate)
}

// send queues a signal for the write loop. It never waits on the socket.
func (c *Client) send(to models.PeerID, kind models.Kind, v any) error {
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}
	if to == "" {
		return models.ErrMissingRecipient
	}
	data, err := models.NewPayload(kind, v)
	if err != nil {
		return err
	}
	if !s.outbox.Push(outgoing{to: to, data: data}) {
		return ErrClosed
	}
	return nil
}

// readLoop dispatches inbound envelopes until the socket fails.
func (c *Client) readLoop(s *session, handler Handler) {
	defer s.shutdown()
	s.conn.SetReadLimit(maxMessageSize)

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("relay connection lost")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := models.Decode(message)
		if err != nil {
			c.log.WithError(err).Debug("dropped undecodable envelope")
			continue
		}
		c.setLastFrom(s, env.From)
		c.dispatch(handler, env)
	}
}

func (c *Client) dispatch(handler Handler, env models.Envelope) {
	log := c.log.WithFields(logrus.Fields{"from": env.From, "kind": env.Data.Kind})

	switch env.Data.Kind {
	case models.KindOffer, models.KindAnswer:
		var sd webrtc.SessionDescription
		if err := env.Data.Unmarshal(&sd); err != nil {
			log.WithError(err).Debug("dropped malformed session description")
			return
		}
		if env.Data.Kind == models.KindOffer {
			handler.OnOffer(env.From, sd)
		} else {
			handler.OnAnswer(env.From, sd)
		}

	case models.KindCandidate:
		var candidate webrtc.ICECandidateInit
		if err := env.Data.Unmarshal(&candidate); err != nil {
			log.WithError(err).Debug("dropped malformed ICE candidate")
			return
		}
		handler.OnICECandidate(env.From, candidate)
	}
}

// writeLoop is the only writer of data frames on the socket.
func (c *Client) writeLoop(s *session) {
	defer s.shutdown()

	for {
		select {
		case <-s.outbox.Ready():
			for _, out := range s.outbox.Drain() {
				message, err := models.Encode(models.Envelope{To: out.to, From: c.settings.ID, Data: out.data})
				if err != nil {
					c.log.WithError(err).Error("failed to encode envelope")
					continue
				}
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
					c.log.WithError(err).Warn("failed to write envelope")
					return
				}
			}

		case <-s.done:
			return
		}
	}
}

func (s *session) shutdown() {
	s.closeOnce.Do(func() {
		s.outbox.Close()
		s.conn.Close()
		close(s.done)
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
