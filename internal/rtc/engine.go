// Package rtc adapts a pion PeerConnection to the negotiation steps the
// peer coordinator drives.
package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/logger"
)

const dataChannelLabel = "data"

// Engine wraps one pion PeerConnection and the data channel it offers.
type Engine struct {
	pc  *webrtc.PeerConnection
	log *logrus.Entry
}

// ICEServers converts settings into pion's ICE server list. Blank URLs are
// skipped; no URLs means host candidates only.
func ICEServers(settings config.RTCSettings) []webrtc.ICEServer {
	urls := make([]string, 0, len(settings.URLs))
	for _, u := range settings.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil
	}

	server := webrtc.ICEServer{URLs: urls}
	if settings.Username != "" {
		server.Username = settings.Username
		server.Credential = settings.Credential
	}
	return []webrtc.ICEServer{server}
}

func NewEngine(settings config.RTCSettings, log *logrus.Logger) (*Engine, error) {
	var se webrtc.SettingEngine
	se.LoggerFactory = logger.PionFactory{Log: log}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: ICEServers(settings),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	e := &Engine{pc: pc, log: log.WithField("mod", "rtc")}

	// An offer needs at least one m-line; the data channel provides it.
	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	e.watch(dc)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		e.log.WithField("label", dc.Label()).Info("remote data channel")
		e.watch(dc)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.log.WithField("state", state.String()).Info("connection state changed")
	})

	return e, nil
}

func (e *Engine) watch(dc *webrtc.DataChannel) {
	log := e.log.WithField("label", dc.Label())
	dc.OnOpen(func() {
		log.Info("data channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		log.WithField("bytes", len(msg.Data)).Debug("data channel message")
	})
}

func (e *Engine) CreateOffer() (webrtc.SessionDescription, error) {
	return e.pc.CreateOffer(nil)
}

func (e *Engine) CreateAnswer() (webrtc.SessionDescription, error) {
	return e.pc.CreateAnswer(nil)
}

func (e *Engine) SetLocalDescription(sd webrtc.SessionDescription) error {
	return e.pc.SetLocalDescription(sd)
}

func (e *Engine) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return e.pc.SetRemoteDescription(sd)
}

func (e *Engine) AddICECandidate(c webrtc.ICECandidateInit) error {
	return e.pc.AddICECandidate(c)
}

// OnICECandidate forwards each gathered candidate. The end-of-gathering nil
// candidate is not forwarded.
func (e *Engine) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// ConnectionState reports the peer connection's current state.
func (e *Engine) ConnectionState() webrtc.PeerConnectionState {
	return e.pc.ConnectionState()
}

func (e *Engine) Close() error {
	return e.pc.Close()
}
