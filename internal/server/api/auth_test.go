package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mkoppen/pulse/internal/server/database"
	"github.com/mkoppen/pulse/internal/server/store"
	"github.com/mkoppen/pulse/wire"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *store.Store, *JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.New(db.DB)
	jwtManager, err := NewJWTManager("test-secret")
	require.NoError(t, err)

	handler := NewAuthHandler(s, jwtManager)
	router := gin.New()
	router.POST("/v1/auth", handler.PostAuth)
	router.GET("/v1/me", AuthMiddleware(jwtManager), handler.GetMe)
	return router, s, jwtManager
}

func postAuth(t *testing.T, router *gin.Engine, body wire.AuthRequest) (int, wire.AuthResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	var resp wire.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestPostAuthRegistersOnFirstUse(t *testing.T) {
	router, s, jwtManager := newAuthRouter(t)

	code, resp := postAuth(t, router, wire.AuthRequest{Handle: "mira", Secret: "hunter2"})
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Token)

	claims, err := jwtManager.VerifyToken(resp.Token)
	require.NoError(t, err)
	require.Equal(t, "mira", claims.Handle)

	account, err := s.GetAccountByHandle(context.Background(), "mira")
	require.NoError(t, err)
	require.Equal(t, claims.Subject, account.ID)
}

func TestPostAuthVerifiesSecret(t *testing.T) {
	router, _, _ := newAuthRouter(t)

	code, _ := postAuth(t, router, wire.AuthRequest{Handle: "mira", Secret: "hunter2"})
	require.Equal(t, http.StatusOK, code)

	code, resp := postAuth(t, router, wire.AuthRequest{Handle: "mira", Secret: "hunter2"})
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)

	code, resp = postAuth(t, router, wire.AuthRequest{Handle: "mira", Secret: "wrong"})
	require.Equal(t, http.StatusUnauthorized, code)
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Error)
}

func TestPostAuthRejectsMissingFields(t *testing.T) {
	router, _, _ := newAuthRouter(t)

	code, _ := postAuth(t, router, wire.AuthRequest{Handle: "", Secret: "x"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = postAuth(t, router, wire.AuthRequest{Handle: "mira", Secret: ""})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestGetMeReturnsAuthenticatedAccount(t *testing.T) {
	router, s, _ := newAuthRouter(t)

	code, resp := postAuth(t, router, wire.AuthRequest{Handle: "mira", Secret: "hunter2"})
	require.Equal(t, http.StatusOK, code)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var me struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.Equal(t, "mira", me.Handle)

	account, err := s.GetAccountByHandle(context.Background(), "mira")
	require.NoError(t, err)
	require.Equal(t, account.ID, me.ID)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtManager, err := NewJWTManager("test-secret")
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(jwtManager))
	router.GET("/whoami", func(c *gin.Context) {
		id, ok := GetAccountID(c)
		require.True(t, ok)
		c.String(http.StatusOK, id)
	})

	do := func(header string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, do("").Code)
	require.Equal(t, http.StatusUnauthorized, do("Basic abc").Code)
	require.Equal(t, http.StatusUnauthorized, do("Bearer not-a-token").Code)

	token, err := jwtManager.CreateToken("a1", "mira")
	require.NoError(t, err)
	rec := do("Bearer " + token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "a1", rec.Body.String())
}

func TestJWTManagerRejectsForeignTokens(t *testing.T) {
	m1, err := NewJWTManager("secret-one")
	require.NoError(t, err)
	m2, err := NewJWTManager("secret-two")
	require.NoError(t, err)

	token, err := m1.CreateToken("a1", "mira")
	require.NoError(t, err)

	_, err = m1.VerifyToken(token)
	require.NoError(t, err)

	_, err = m2.VerifyToken(token)
	require.Error(t, err)
}
