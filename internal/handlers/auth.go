package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signaling-relay/internal/middleware"
	"github.com/mossy-p/signaling-relay/internal/models"
)

const tokenTTL = 24 * time.Hour

var (
	ErrMissingID     = errors.New("missing id")
	ErrMissingSecret = errors.New("missing secret")
	ErrInvalidSecret = errors.New("invalid secret")
)

// Authenticate checks the id and secret query parameters of a connection
// attempt against the configured shared secret and returns the peer id to
// register.
func Authenticate(query url.Values, secret string) (models.PeerID, error) {
	id := query.Get("id")
	if id == "" {
		return "", ErrMissingID
	}
	if !query.Has("secret") {
		return "", ErrMissingSecret
	}
	if subtle.ConstantTimeCompare([]byte(query.Get("secret")), []byte(secret)) != 1 {
		return "", ErrInvalidSecret
	}
	return id, nil
}

// Login exchanges the shared secret for an API token bound to a peer id
func (r *Relay) Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		id, err := Authenticate(url.Values{"id": {req.ID}, "secret": {req.Secret}}, r.secret)
		if err != nil {
			r.log.WithField("peer", req.ID).WithError(err).Warn("login rejected")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		tokenString, err := middleware.IssueToken(id, jwtSecret, tokenTTL)
		if err != nil {
			r.log.WithError(err).Error("failed to sign token")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.JSON(http.StatusOK, models.LoginResponse{
			Token:  tokenString,
			PeerID: id,
		})
	}
}
