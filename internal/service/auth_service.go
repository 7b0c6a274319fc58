package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/jwt"
	"github.com/xxxsen/mrag/internal/pkg/password"
)

// AuthService guards the API with a single admin account. The configured
// password may be plain text or a bcrypt hash.
type AuthService struct {
	adminUser    string
	passwordHash string
	jwtSecret    []byte
	jwtTTL       time.Duration
}

func NewAuthService(adminUser, adminPassword string, secret []byte, ttl time.Duration) (*AuthService, error) {
	hash := adminPassword
	if !password.IsHash(adminPassword) {
		hashed, err := password.Hash(adminPassword)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		hash = hashed
	}
	return &AuthService{adminUser: adminUser, passwordHash: hash, jwtSecret: secret, jwtTTL: ttl}, nil
}

func (s *AuthService) Login(ctx context.Context, user, plainPassword string) (string, error) {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.adminUser)) != 1 {
		logutil.GetLogger(ctx).Warn("login with unknown user", zap.String("user", user))
		return "", appErr.ErrUnauthorized
	}
	if err := password.Compare(s.passwordHash, plainPassword); err != nil {
		logutil.GetLogger(ctx).Warn("login with wrong password", zap.String("user", user))
		return "", appErr.ErrUnauthorized
	}
	return s.IssueToken(user)
}

func (s *AuthService) IssueToken(subject string) (string, error) {
	return jwt.GenerateToken(subject, s.jwtSecret, s.jwtTTL)
}

func (s *AuthService) Secret() []byte {
	return s.jwtSecret
}
