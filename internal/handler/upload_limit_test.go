package handler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUploadLimit(t *testing.T) {
	tests := []struct {
		limit    uploadLimit
		size     int64
		exceeded bool
		text     string
	}{
		{limit: 0, size: 1 << 40, exceeded: false, text: "0B"},
		{limit: 512, size: 512, exceeded: false, text: "512B"},
		{limit: 50 << 20, size: 50<<20 + 1, exceeded: true, text: "50MB"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.exceeded, tt.limit.exceeded(tt.size))
		require.Equal(t, tt.text, tt.limit.String())
	}
}
