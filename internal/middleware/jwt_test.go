package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/thesis-registration-api/internal/models"
	appErrors "github.com/noah-isme/thesis-registration-api/pkg/errors"
)

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func newProtectedRouter(auth gin.HandlerFunc, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/resource", auth, RequireRoles(roles...), func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.String(http.StatusOK, claims.UserID)
	})
	return router
}

func TestJWTAndRoles(t *testing.T) {
	tokens := stubValidator{
		"student-token": {UserID: "stu-1", Role: models.RoleStudent},
		"dept-token":    {UserID: "dept-1", Role: models.RoleDepartment},
	}
	router := newProtectedRouter(JWT(tokens), models.RoleDepartment, models.RoleAdmin)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic dept-token", status: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer student-token", status: http.StatusForbidden},
		{name: "allowed", header: "bearer dept-token", status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/resource", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestStreamJWTAcceptsQueryToken(t *testing.T) {
	tokens := stubValidator{"ins-token": {UserID: "ins-1", Role: models.RoleInstructor}}
	router := newProtectedRouter(StreamJWT(tokens), models.RoleInstructor)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resource?access_token=ins-token", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ins-1", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resource", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
