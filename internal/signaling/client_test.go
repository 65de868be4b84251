package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/handlers"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
)

const (
	testSecret = "test"
	timeout    = 2 * time.Second
)

type event struct {
	from      models.PeerID
	kind      models.Kind
	sdp       webrtc.SessionDescription
	candidate webrtc.ICECandidateInit
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 16)}
}

func (r *recorder) OnOffer(from models.PeerID, offer webrtc.SessionDescription) {
	r.events <- event{from: from, kind: models.KindOffer, sdp: offer}
}

func (r *recorder) OnAnswer(from models.PeerID, answer webrtc.SessionDescription) {
	r.events <- event{from: from, kind: models.KindAnswer, sdp: answer}
}

func (r *recorder) OnICECandidate(from models.PeerID, candidate webrtc.ICECandidateInit) {
	r.events <- event{from: from, kind: models.KindCandidate, candidate: candidate}
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a signal")
		return event{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected signal %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

type testRelay struct {
	server   *httptest.Server
	registry *registry.Registry
	log      *logrus.Logger
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()

	cfg := &config.Config{
		RelaySecret: testSecret,
		JWTSecret:   "jwt-test-secret",
		Socket:      config.DefaultSocketConfig(),
	}
	reg := registry.New()
	relay := handlers.NewRelay(reg, nil, cfg.RelaySecret, cfg.Socket, log)
	srv := httptest.NewServer(handlers.NewRouter(cfg, relay, log))
	t.Cleanup(srv.Close)
	return &testRelay{server: srv, registry: reg, log: log}
}

func (tr *testRelay) url() string {
	return "ws" + strings.TrimPrefix(tr.server.URL, "http") + "/ws"
}

func (tr *testRelay) settings(id string) config.SignalingSettings {
	return config.SignalingSettings{Server: tr.url(), ID: id, Secret: testSecret}
}

// waitRegistered blocks until id is routable on the relay.
func (tr *testRelay) waitRegistered(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := tr.registry.Lookup(id)
		return ok
	}, timeout, 5*time.Millisecond)
}

func (tr *testRelay) client(t *testing.T, id string, h Handler) *Client {
	t.Helper()
	c := NewClient(tr.settings(id), tr.log)
	require.NoError(t, c.Connect(context.Background(), h))
	t.Cleanup(func() { c.Close() })
	tr.waitRegistered(t, id)
	return c
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(timeout):
		t.Fatal("client connection did not end")
	}
}

func TestClientExchangesSignals(t *testing.T) {
	tr := newTestRelay(t)
	ha, hb := newRecorder(), newRecorder()
	a := tr.client(t, "A", ha)
	b := tr.client(t, "B", hb)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	require.NoError(t, a.SendOffer("B", offer))

	ev := hb.next(t)
	assert.Equal(t, "A", ev.from)
	assert.Equal(t, models.KindOffer, ev.kind)
	assert.Equal(t, offer, ev.sdp)

	last, ok := b.LastTo()
	require.True(t, ok)
	assert.Equal(t, "A", last)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	require.NoError(t, b.SendAnswer("A", answer))
	ev = ha.next(t)
	assert.Equal(t, "B", ev.from)
	assert.Equal(t, models.KindAnswer, ev.kind)
	assert.Equal(t, answer, ev.sdp)

	mid := "0"
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host", SDPMid: &mid}
	require.NoError(t, a.SendICECandidate("B", candidate))
	ev = hb.next(t)
	assert.Equal(t, models.KindCandidate, ev.kind)
	assert.Equal(t, candidate.Candidate, ev.candidate.Candidate)
	require.NotNil(t, ev.candidate.SDPMid)
	assert.Equal(t, mid, *ev.candidate.SDPMid)
}

func TestClientPreservesSendOrder(t *testing.T) {
	tr := newTestRelay(t)
	hb := newRecorder()
	a := tr.client(t, "A", newRecorder())
	tr.client(t, "B", hb)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.SendICECandidate("B", webrtc.ICECandidateInit{Candidate: string(rune('a' + i))}))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, string(rune('a'+i)), hb.next(t).candidate.Candidate)
	}
}

func TestSendBeforeConnect(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := NewClient(config.SignalingSettings{Server: "ws://127.0.0.1:1/ws", ID: "A", Secret: testSecret}, log)

	err := c.SendOffer("B", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, ok := c.LastTo()
	assert.False(t, ok, "nothing has been received yet")

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed before the first Connect")
	}
	assert.NoError(t, c.Close())
}

func TestSendRequiresRecipient(t *testing.T) {
	tr := newTestRelay(t)
	a := tr.client(t, "A", newRecorder())

	err := a.SendOffer("", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
	assert.ErrorIs(t, err, models.ErrMissingRecipient)
}

func TestLastToFollowsInboundOnly(t *testing.T) {
	tr := newTestRelay(t)
	ha, hb := newRecorder(), newRecorder()
	a := tr.client(t, "A", ha)
	b := tr.client(t, "B", hb)

	// sending alone gives A no one to address candidates to
	require.NoError(t, a.SendOffer("B", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))
	require.NoError(t, a.SendOffer("nobody", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "y"}))
	hb.next(t)
	_, ok := a.LastTo()
	assert.False(t, ok)

	last, ok := b.LastTo()
	require.True(t, ok)
	assert.Equal(t, "A", last)

	require.NoError(t, b.SendAnswer("A", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "z"}))
	ha.next(t)
	last, ok = a.LastTo()
	require.True(t, ok)
	assert.Equal(t, "B", last)

	// a fresh connection starts with no sender
	require.NoError(t, a.Close())
	waitDone(t, a)
	require.NoError(t, a.Connect(context.Background(), ha))
	_, ok = a.LastTo()
	assert.False(t, ok)
}

func TestConnectDoesNotBlockSenders(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer stalled.Close()
	defer close(release)

	log, _ := test.NewNullLogger()
	c := NewClient(config.SignalingSettings{
		Server: "ws" + strings.TrimPrefix(stalled.URL, "http") + "/ws",
		ID:     "A",
		Secret: testSecret,
	}, log)

	connectErr := make(chan error, 1)
	go func() { connectErr <- c.Connect(context.Background(), newRecorder()) }()

	select {
	case <-entered:
	case <-time.After(timeout):
		t.Fatal("handshake never reached the server")
	}

	results := make(chan error, 1)
	go func() {
		c.LastTo()
		results <- c.SendICECandidate("B", webrtc.ICECandidateInit{Candidate: "c"})
	}()
	select {
	case err := <-results:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(timeout):
		t.Fatal("send blocked while Connect was dialing")
	}

	assert.ErrorIs(t, c.Connect(context.Background(), newRecorder()), ErrAlreadyConnected)

	release <- struct{}{}
	select {
	case err := <-connectErr:
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	case <-time.After(timeout):
		t.Fatal("Connect did not return")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	tr := newTestRelay(t)
	a := tr.client(t, "A", newRecorder())

	require.NoError(t, a.Close())
	waitDone(t, a)

	err := a.SendAnswer("B", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"})
	assert.ErrorIs(t, err, ErrClosed)

	require.Eventually(t, func() bool {
		_, ok := tr.registry.Lookup("A")
		return !ok
	}, timeout, 5*time.Millisecond)
}

func TestConnectTwiceAndReconnect(t *testing.T) {
	tr := newTestRelay(t)
	hb := newRecorder()
	a := tr.client(t, "A", newRecorder())
	tr.client(t, "B", hb)

	assert.ErrorIs(t, a.Connect(context.Background(), newRecorder()), ErrAlreadyConnected)

	first, _ := tr.registry.Lookup("A")
	require.NoError(t, a.Close())
	waitDone(t, a)

	require.NoError(t, a.Connect(context.Background(), newRecorder()))
	require.Eventually(t, func() bool {
		cur, ok := tr.registry.Lookup("A")
		return ok && cur != first
	}, timeout, 5*time.Millisecond)

	require.NoError(t, a.SendOffer("B", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "again"}))
	assert.Equal(t, "again", hb.next(t).sdp.SDP)
}

func TestConnectRejected(t *testing.T) {
	tr := newTestRelay(t)
	settings := tr.settings("A")
	settings.Secret = "wrong"

	c := NewClient(settings, tr.log)
	err := c.Connect(context.Background(), newRecorder())
	require.Error(t, err)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.NotContains(t, err.Error(), "wrong")
	assert.Equal(t, 0, tr.registry.Len())

	assert.ErrorIs(t, c.SendOffer("B", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}), ErrNotConnected)
}

func TestClientDropsMalformedFrames(t *testing.T) {
	tr := newTestRelay(t)
	ha := newRecorder()
	tr.client(t, "A", ha)

	q := url.Values{"id": {"raw"}, "secret": {testSecret}}
	raw, _, err := websocket.DefaultDialer.Dial(tr.url()+"?"+q.Encode(), nil)
	require.NoError(t, err)
	defer raw.Close()

	frames := []string{
		`{"to":"A","from":"raw","data":{"Offer":"not an object"}}`,
		`{"to":"A","from":"raw","data":{"Candidate":[1,2]}}`,
	}
	for _, f := range frames {
		require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(f)))
	}
	ha.none(t)

	valid := `{"to":"A","from":"raw","data":{"Answer":{"type":"answer","sdp":"ok"}}}`
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(valid)))
	ev := ha.next(t)
	assert.Equal(t, "raw", ev.from)
	assert.Equal(t, "ok", ev.sdp.SDP)
}

func TestEvictionEndsClient(t *testing.T) {
	tr := newTestRelay(t)
	a := tr.client(t, "A", newRecorder())

	require.True(t, tr.registry.Evict("A"))
	waitDone(t, a)

	err := a.SendOffer("B", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientID(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := NewClient(config.SignalingSettings{Server: "ws://127.0.0.1:1/ws", ID: "A", Secret: testSecret}, log)
	assert.Equal(t, "A", c.ID())
}
