// Package peer drives WebRTC negotiation from relay signals.
package peer

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/signaling-relay/internal/models"
)

var ErrNoRecipient = errors.New("no peer to address local candidate to")

// Engine is the negotiation side of a peer connection.
type Engine interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate registers the callback for locally gathered candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
}

// Sender delivers signals to other peers. *signaling.Client satisfies it.
type Sender interface {
	SendOffer(to models.PeerID, offer webrtc.SessionDescription) error
	SendAnswer(to models.PeerID, answer webrtc.SessionDescription) error
	SendICECandidate(to models.PeerID, candidate webrtc.ICECandidateInit) error
	LastTo() (models.PeerID, bool)
}

// Coordinator answers offers, applies answers and candidates, and forwards
// the engine's own candidates. It is the Handler passed to the signaling
// client.
type Coordinator struct {
	engine Engine
	sender Sender
	log    *logrus.Entry
}

func NewCoordinator(engine Engine, sender Sender, log *logrus.Logger) *Coordinator {
	c := &Coordinator{
		engine: engine,
		sender: sender,
		log:    log.WithField("mod", "peer"),
	}
	engine.OnICECandidate(c.onLocalCandidate)
	return c
}

// Offer starts a negotiation with to.
func (c *Coordinator) Offer(to models.PeerID) error {
	offer, err := c.engine.CreateOffer()
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := c.engine.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local offer: %w", err)
	}
	if err := c.sender.SendOffer(to, offer); err != nil {
		return fmt.Errorf("failed to send offer to %s: %w", to, err)
	}
	c.log.WithField("to", to).Info("sent offer")
	return nil
}

func (c *Coordinator) OnOffer(from models.PeerID, offer webrtc.SessionDescription) {
	log := c.log.WithField("from", from)
	if err := c.answer(from, offer); err != nil {
		log.WithError(err).Error("failed to answer offer")
		return
	}
	log.Info("answered offer")
}

func (c *Coordinator) answer(from models.PeerID, offer webrtc.SessionDescription) error {
	if err := c.engine.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.engine.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.engine.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := c.sender.SendAnswer(from, answer); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

func (c *Coordinator) OnAnswer(from models.PeerID, answer webrtc.SessionDescription) {
	if err := c.engine.SetRemoteDescription(answer); err != nil {
		c.log.WithField("from", from).WithError(err).Error("failed to apply answer")
		return
	}
	c.log.WithField("from", from).Info("applied answer")
}

// OnICECandidate adds a remote candidate. A candidate the engine rejects is
// skipped.
func (c *Coordinator) OnICECandidate(from models.PeerID, candidate webrtc.ICECandidateInit) {
	if err := c.engine.AddICECandidate(candidate); err != nil {
		c.log.WithField("from", from).WithError(err).Warn("failed to add remote candidate")
	}
}

func (c *Coordinator) onLocalCandidate(candidate webrtc.ICECandidateInit) {
	to, ok := c.sender.LastTo()
	if !ok {
		c.log.WithError(ErrNoRecipient).Debug("dropped local candidate")
		return
	}
	if err := c.sender.SendICECandidate(to, candidate); err != nil {
		c.log.WithField("to", to).WithError(err).Warn("failed to send local candidate")
	}
}
