package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/jwt"
	"github.com/xxxsen/mrag/internal/pkg/password"
)

func TestAuthService_Login(t *testing.T) {
	hash, err := password.Hash("secret")
	require.NoError(t, err)

	for _, configured := range []string{"secret", hash} {
		svc, err := NewAuthService("admin", configured, []byte("k"), time.Hour)
		require.NoError(t, err)

		token, err := svc.Login(context.Background(), "admin", "secret")
		require.NoError(t, err)
		claims, err := jwt.ParseToken(token, []byte("k"))
		require.NoError(t, err)
		require.Equal(t, "admin", claims.Subject)

		_, err = svc.Login(context.Background(), "admin", "wrong")
		require.ErrorIs(t, err, appErr.ErrUnauthorized)
		_, err = svc.Login(context.Background(), "root", "secret")
		require.ErrorIs(t, err, appErr.ErrUnauthorized)
	}
}
