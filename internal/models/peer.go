package models

import (
	"errors"
	"time"
)

// ErrPeerNotFound is returned by presence lookups when no record exists.
var ErrPeerNotFound = errors.New("peer not found")

// PeerPresence describes a live registration on the relay
type PeerPresence struct {
	ID          PeerID    `json:"id"`
	ConnID      string    `json:"connId"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// LoginRequest is the request body for obtaining an API token
type LoginRequest struct {
	ID     PeerID `json:"id" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

// LoginResponse carries the signed API token
type LoginResponse struct {
	Token  string `json:"token"`
	PeerID PeerID `json:"peer_id"`
}

// PeersResponse lists the peers registered on this relay and, separately,
// every peer the presence store reports online.
type PeersResponse struct {
	Peers  []PeerID `json:"peers"`
	Count  int      `json:"count"`
	Online []PeerID `json:"online"`
}
