package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grievance-api/internal/models"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
)

type gateStub struct {
	actors map[string]*models.Actor
}

func (g gateStub) Authenticate(_ context.Context, token string) (*models.Actor, error) {
	if token == "orphan" {
		return nil, appErrors.Clone(appErrors.ErrProfileNotFound, "User profile not found")
	}
	actor, ok := g.actors[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required")
	}
	return actor, nil
}

func newGate() gateStub {
	return gateStub{actors: map[string]*models.Actor{
		"student": {ID: "s1", Role: models.RoleStudent},
		"admin":   {ID: "a1", Role: models.RoleAdmin},
		"ghost":   {ID: "g1", Role: models.RoleStudent, Anonymous: true},
	}}
}

func performRequest(r *gin.Engine, header, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "grievance_session", Value: cookie})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireAuth(newGate(), "grievance_session", AccessPolicy{Roles: []models.UserRole{models.RoleAdmin}}), func(c *gin.Context) {
		c.String(http.StatusOK, ActorFromContext(c).ID)
	})

	w := performRequest(r, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(r, "Token admin", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(r, "Bearer orphan", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, appErrors.ErrProfileNotFound.Code, errorCode(t, w))

	w = performRequest(r, "Bearer student", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, appErrors.ErrForbidden.Code, errorCode(t, w))

	w = performRequest(r, "Bearer admin", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a1", w.Body.String())

	w = performRequest(r, "", "admin")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuthAnonymousPolicy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireAuth(newGate(), "grievance_session", AccessPolicy{}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := performRequest(r, "Bearer ghost", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, appErrors.ErrAnonymousNotAllowed.Code, errorCode(t, w))

	open := gin.New()
	open.GET("/", RequireAuth(newGate(), "grievance_session", AnyUser), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, performRequest(open, "Bearer ghost", "").Code)
}

func TestOptionalAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", OptionalAuth(newGate(), "grievance_session"), func(c *gin.Context) {
		if actor := ActorFromContext(c); actor != nil {
			c.String(http.StatusOK, actor.ID)
			return
		}
		c.String(http.StatusOK, "none")
	})

	assert.Equal(t, "none", performRequest(r, "", "").Body.String())
	assert.Equal(t, "none", performRequest(r, "Bearer orphan", "").Body.String())
	assert.Equal(t, "none", performRequest(r, "Bearer bogus", "").Body.String())
	assert.Equal(t, "s1", performRequest(r, "Bearer student", "").Body.String())
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequireAuth(newGate(), "", AnyUser), RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusForbidden, performRequest(r, "Bearer student", "").Code)
	assert.Equal(t, http.StatusNoContent, performRequest(r, "Bearer admin", "").Code)
}
