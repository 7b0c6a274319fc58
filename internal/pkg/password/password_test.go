package password

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := Hash("s3cret")
	require.NoError(t, err)
	require.True(t, IsHash(hash))
	require.NoError(t, Compare(hash, "s3cret"))
	require.Error(t, Compare(hash, "wrong"))
}

func TestIsHash_PlainText(t *testing.T) {
	for _, v := range []string{"", "admin", "$2a$", "$2b$10$short"} {
		require.False(t, IsHash(v), v)
	}
}
