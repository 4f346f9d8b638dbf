package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"habitly/internal/config"
	"habitly/internal/logging"
	"habitly/internal/model"
	"habitly/internal/repository"
)

// AuthService handles authentication-related business logic with refresh token rotation and reuse detection.
type AuthService struct {
	refreshTokenRepo repository.RefreshTokenRepository
	config           *config.Config
	now              Clock
	log              *logrus.Entry
}

func NewAuthService(refreshTokenRepo repository.RefreshTokenRepository, cfg *config.Config) *AuthService {
	return &AuthService{
		refreshTokenRepo: refreshTokenRepo,
		config:           cfg,
		now:              time.Now,
		log:              logging.For("AuthService"),
	}
}

// GenerateTokenPair issues a new access token and persists a refresh token.
func (s *AuthService) GenerateTokenPair(ctx context.Context, userID int64, deviceInfo, ipAddress string) (*model.TokenPair, error) {
	pair, _, err := s.issue(ctx, userID, deviceInfo, ipAddress)
	return pair, err
}

func (s *AuthService) issue(ctx context.Context, userID int64, deviceInfo, ipAddress string) (*model.TokenPair, *model.RefreshToken, error) {
	accessToken, err := s.generateAccessToken(userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshTokenRaw := uuid.New().String()
	refreshToken := &model.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(refreshTokenRaw),
		ExpiresAt: s.now().Add(time.Duration(s.config.RefreshTokenMaxAge) * time.Second),
	}
	if deviceInfo != "" {
		refreshToken.DeviceInfo = &deviceInfo
	}
	if ipAddress != "" {
		refreshToken.IPAddress = &ipAddress
	}

	if err := s.refreshTokenRepo.Create(ctx, refreshToken); err != nil {
		return nil, nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenRaw,
		ExpiresIn:    s.config.AccessTokenMaxAge,
	}, refreshToken, nil
}

// RefreshTokens validates the refresh token and rotates a new pair.
// Presenting an already rotated token revokes every token of its owner.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshTokenRaw, deviceInfo, ipAddress string) (*model.TokenPair, int64, error) {
	if refreshTokenRaw == "" {
		return nil, 0, model.ErrRefreshTokenNotFound
	}

	token, err := s.refreshTokenRepo.FindByTokenHash(ctx, hashToken(refreshTokenRaw))
	if err != nil {
		if errors.Is(err, model.ErrRefreshTokenNotFound) {
			return nil, 0, model.ErrRefreshTokenNotFound
		}
		return nil, 0, fmt.Errorf("failed to find refresh token: %w", err)
	}

	if token.IsRevoked() {
		s.log.WithField("user_id", token.UserID).Warn("Refresh token reuse detected, revoking all sessions")
		if err := s.refreshTokenRepo.RevokeAllForUser(ctx, token.UserID); err != nil {
			s.log.WithError(err).WithField("user_id", token.UserID).Error("Revoke token family FAILED")
		}
		return nil, 0, model.ErrRefreshTokenReused
	}

	if token.IsExpiredAt(s.now()) {
		return nil, 0, model.ErrRefreshTokenExpired
	}

	pair, replacement, err := s.issue(ctx, token.UserID, deviceInfo, ipAddress)
	if err != nil {
		return nil, 0, err
	}

	var replacedBy *string
	if replacement.ID != "" {
		replacedBy = &replacement.ID
	}
	if err := s.refreshTokenRepo.Revoke(ctx, token.ID, replacedBy); err != nil {
		s.log.WithError(err).WithField("token_id", token.ID).Error("Revoke rotated token FAILED")
	}

	return pair, token.UserID, nil
}

// RevokeRefreshToken revokes a single session. Unknown tokens are not an error.
func (s *AuthService) RevokeRefreshToken(ctx context.Context, refreshTokenRaw string) error {
	if refreshTokenRaw == "" {
		return nil
	}
	token, err := s.refreshTokenRepo.FindByTokenHash(ctx, hashToken(refreshTokenRaw))
	if err != nil {
		if errors.Is(err, model.ErrRefreshTokenNotFound) {
			return nil
		}
		return err
	}
	if token.IsRevoked() {
		return nil
	}
	return s.refreshTokenRepo.Revoke(ctx, token.ID, nil)
}

func (s *AuthService) RevokeAllUserTokens(ctx context.Context, userID int64) error {
	return s.refreshTokenRepo.RevokeAllForUser(ctx, userID)
}

// PurgeExpired deletes refresh tokens that expired more than retention ago.
func (s *AuthService) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.refreshTokenRepo.DeleteExpired(ctx, retention)
	if err != nil {
		s.log.WithError(err).Warn("Purge expired tokens FAILED")
		return 0, err
	}
	if n > 0 {
		s.log.WithField("deleted", n).Info("Purge expired tokens OK")
	}
	return n, nil
}

// ParseAccessToken validates an HS256 access token and returns its user id.
func (s *AuthService) ParseAccessToken(tokenString string) (int64, error) {
	return ParseAccessToken(tokenString, s.config.JWTSecret)
}

func (s *AuthService) generateAccessToken(userID int64) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(time.Duration(s.config.AccessTokenMaxAge) * time.Second).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// Access token parse errors
var (
	ErrAccessTokenExpired = errors.New("access token expired")
	ErrAccessTokenInvalid = errors.New("access token invalid")
)

// ParseAccessToken validates tokenString against secret and extracts user_id.
func ParseAccessToken(tokenString, secret string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrAccessTokenExpired
		}
		return 0, ErrAccessTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, ErrAccessTokenInvalid
	}
	userIDFloat, ok := claims["user_id"].(float64)
	if !ok {
		return 0, ErrAccessTokenInvalid
	}
	return int64(userIDFloat), nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
