// Package api holds the HTTP surface of the server: the auth endpoint, the
// JWT manager it issues tokens with, and the gin middleware shared with the
// socket mount.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mkoppen/pulse/internal/server/store"
	"github.com/mkoppen/pulse/pkg/logger"
	"github.com/mkoppen/pulse/wire"
)

type AuthHandler struct {
	store      *store.Store
	jwtManager *JWTManager
	now        func() time.Time
}

func NewAuthHandler(s *store.Store, jwtManager *JWTManager) *AuthHandler {
	return &AuthHandler{
		store:      s,
		jwtManager: jwtManager,
		now:        time.Now,
	}
}

// PostAuth registers a handle on first use and verifies the secret on every
// subsequent one; either way a token is issued on success.
// POST /v1/auth
func (h *AuthHandler) PostAuth(c *gin.Context) {
	var req wire.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.AuthResponse{Error: err.Error()})
		return
	}

	handle := strings.TrimSpace(req.Handle)
	if handle == "" || req.Secret == "" {
		c.JSON(http.StatusBadRequest, wire.AuthResponse{Error: "handle and secret are required"})
		return
	}

	account, err := h.store.GetAccountByHandle(c.Request.Context(), handle)
	switch {
	case errors.Is(err, store.ErrNotFound):
		hash, err := store.HashSecret(req.Secret)
		if err != nil {
			c.JSON(http.StatusInternalServerError, wire.AuthResponse{Error: "failed to create account"})
			return
		}
		account = store.Account{
			ID:         uuid.NewString(),
			Handle:     handle,
			SecretHash: hash,
			CreatedAt:  h.now(),
		}
		if err := h.store.CreateAccount(c.Request.Context(), account); err != nil {
			c.JSON(http.StatusInternalServerError, wire.AuthResponse{Error: "failed to create account"})
			return
		}
		logger.Infof("Registered account %s (%s)", handle, account.ID)

	case err != nil:
		c.JSON(http.StatusInternalServerError, wire.AuthResponse{Error: "lookup failed"})
		return

	default:
		if !account.CheckSecret(req.Secret) {
			logger.Warnf("Rejected auth for %s: bad secret", handle)
			c.JSON(http.StatusUnauthorized, wire.AuthResponse{Error: "invalid credentials"})
			return
		}
	}

	token, err := h.jwtManager.CreateToken(account.ID, account.Handle)
	if err != nil {
		c.JSON(http.StatusInternalServerError, wire.AuthResponse{Error: "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, wire.AuthResponse{Success: true, Token: token})
}

// GetMe returns the authenticated account. Requires AuthMiddleware.
// GET /v1/me
func (h *AuthHandler) GetMe(c *gin.Context) {
	accountID, ok := GetAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	account, err := h.store.GetAccountByID(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        account.ID,
		"handle":    account.Handle,
		"createdAt": account.CreatedAt.UTC().Format(time.RFC3339),
	})
}
