package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signaling-relay/internal/middleware"
	"github.com/mossy-p/signaling-relay/internal/models"
)

// ListPeers returns the ids currently registered on this relay along with
// the presence store's view, which spans every relay sharing it.
func (r *Relay) ListPeers(c *gin.Context) {
	peers := r.registry.Peers()

	online, err := r.presence.Online(c.Request.Context())
	if err != nil {
		r.log.WithError(err).Error("presence listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list peers"})
		return
	}

	c.JSON(http.StatusOK, models.PeersResponse{
		Peers:  peers,
		Count:  len(peers),
		Online: online,
	})
}

// GetPeer returns the presence record for a peer
func (r *Relay) GetPeer(c *gin.Context) {
	peerID := c.Param("peerId")

	rec, err := r.presence.Lookup(c.Request.Context(), peerID)
	if errors.Is(err, models.ErrPeerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Peer not found"})
		return
	}
	if err != nil {
		r.log.WithError(err).WithField("peer", peerID).Error("presence lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up peer"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// DisconnectPeer evicts a registration. Peers may only disconnect their own
// id.
func (r *Relay) DisconnectPeer(c *gin.Context) {
	peerID := c.Param("peerId")

	if c.GetString(middleware.PeerIDKey) != peerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Peers may only disconnect themselves"})
		return
	}

	if !r.registry.Evict(peerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Peer not found"})
		return
	}

	r.log.WithField("peer", peerID).Info("peer evicted via API")
	c.JSON(http.StatusOK, gin.H{"message": "Peer disconnected"})
}
