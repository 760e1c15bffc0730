package edge

import (
	"fmt"

	"github.com/kiranshivaraju/portalgate/internal/config"
	"github.com/kiranshivaraju/portalgate/internal/edge/cloudflare"
	"github.com/kiranshivaraju/portalgate/internal/edge/mock"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// NewProvider constructs the hostname provider selected in config.
// Called once at server startup.
func NewProvider(cfg config.EdgeConfig) (models.HostnameProvider, error) {
	switch cfg.Provider {
	case "cloudflare":
		return cloudflare.NewProvider(cfg), nil
	case "mock":
		return mock.NewMockProvider(cfg.CNAMETarget), nil
	default:
		return nil, fmt.Errorf("unknown edge provider %q: must be one of cloudflare, mock", cfg.Provider)
	}
}
