package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"mockview/internal/api/middleware"
	"mockview/internal/auth"
	"mockview/internal/database"
)

const refreshTokenBlacklistKeyPrefix = "auth:refresh:revoked:"

// refreshStore 是刷新令牌黑名单用到的 Redis 命令。
type refreshStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// AuthHandler 处理令牌轮换与注销。账号与首个令牌由 cmd/admin 签发。
type AuthHandler struct {
	db          *gorm.DB
	authService *auth.AuthService
	redis       refreshStore
}

// NewAuthHandler 构造 AuthHandler。
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, redisClient refreshStore) *AuthHandler {
	return &AuthHandler{db: db, authService: authService, redis: redisClient}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Refresh 用刷新令牌换取新的令牌对，旧刷新令牌立即作废。
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	claims, ok := h.activeRefreshClaims(c, req.RefreshToken)
	if !ok {
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("refresh user not found", slog.Uint64("user_id", uint64(claims.UserID)))
			Unauthorized(c)
			return
		}
		Internal(c, "internal error")
		return
	}

	tokenPair, err := h.authService.GenerateTokenPair(user.ID)
	if err != nil {
		logger.Error("refresh generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if err := h.revokeRefreshToken(ctx, claims.ID, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, tokenPairResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresIn:    int64(h.authService.AccessTokenTTL().Seconds()),
	})
}

// Logout 作废刷新令牌；访问令牌依旧在有效期内可用。
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	claims, ok := h.activeRefreshClaims(c, req.RefreshToken)
	if !ok {
		return
	}
	if userID, ok := userIDFromContext(c); !ok || userID != claims.UserID {
		Unauthorized(c)
		return
	}
	if err := h.revokeRefreshToken(c.Request.Context(), claims.ID, claims.ExpiresAt); err != nil {
		middleware.LoggerFromContext(c).Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.Status(http.StatusNoContent)
}

// activeRefreshClaims 校验刷新令牌的签名、类型与黑名单状态，失败时已写出响应。
func (h *AuthHandler) activeRefreshClaims(c *gin.Context, token string) (*auth.TokenClaims, bool) {
	logger := middleware.LoggerFromContext(c)

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		Unauthorized(c)
		return nil, false
	}
	if claims.TokenType != auth.TokenTypeRefresh || claims.ID == "" {
		logger.Info("refresh token wrong type", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return nil, false
	}

	err = h.redis.Get(c.Request.Context(), refreshTokenBlacklistKeyPrefix+claims.ID).Err()
	switch {
	case err == nil:
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return nil, false
	case !errors.Is(err, redis.Nil):
		logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, jti string, expiresAt *jwt.NumericDate) error {
	ttl := time.Minute
	if expiresAt != nil {
		if remaining := time.Until(expiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}
	return h.redis.Set(ctx, refreshTokenBlacklistKeyPrefix+jti, "revoked", ttl).Err()
}
