package edge_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/portalgate/internal/config"
	"github.com/kiranshivaraju/portalgate/internal/edge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
	}{
		{"cloudflare", "cloudflare"},
		{"mock", "mock"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := edge.NewProvider(config.EdgeConfig{
				Provider:    tt.provider,
				CNAMETarget: "portals.example.net",
				Timeout:     time.Second,
				Cloudflare:  config.CloudflareConfig{APIURL: "http://localhost", APIToken: "t", ZoneID: "z"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := edge.NewProvider(config.EdgeConfig{Provider: "akamai"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "akamai")
}
