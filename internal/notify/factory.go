// Package notify delivers one-time login codes to portal visitors.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/portalgate/internal/config"
	"github.com/kiranshivaraju/portalgate/internal/notify/postmark"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// NewNotifier constructs the notifier selected in config.
func NewNotifier(cfg config.NotifyConfig, codeTTL time.Duration) (models.Notifier, error) {
	switch cfg.Provider {
	case "postmark":
		return postmark.New(postmark.Config{
			ServerToken:  cfg.ServerToken,
			AccountToken: cfg.AccountToken,
			SenderEmail:  cfg.SenderEmail,
			CodeTTL:      codeTTL,
		})
	case "log":
		return NewLogNotifier(slog.Default()), nil
	default:
		return nil, fmt.Errorf("unknown notify provider %q: must be one of postmark, log", cfg.Provider)
	}
}
