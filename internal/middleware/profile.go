package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-registration-api/internal/models"
)

// ProfileStore persists the local copy of a caller's identity.
type ProfileStore interface {
	Upsert(ctx context.Context, profile *models.UserProfile) error
}

// SyncProfile copies the caller's claims into the profile store before the
// handler runs. Failures are logged and never block the request.
func SyncProfile(store ProfileStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		value, ok := c.Get(ContextUserKey)
		if !ok {
			c.Next()
			return
		}
		claims, ok := value.(*models.JWTClaims)
		if !ok || claims.UserID == "" {
			c.Next()
			return
		}
		profile := &models.UserProfile{
			ID:        claims.UserID,
			UserCode:  claims.UserCode,
			FullName:  claims.FullName,
			Email:     claims.Email,
			Role:      claims.Role,
			UpdatedAt: time.Now().UTC(),
		}
		if err := store.Upsert(c.Request.Context(), profile); err != nil {
			logger.Warn("sync user profile failed", zap.String("user_id", claims.UserID), zap.Error(err))
		}
		c.Next()
	}
}
