package notify

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// LogNotifier records that a code was dispatched without delivering it.
// The code itself is never written to the log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) SendCode(ctx context.Context, destination, _ string, tenant *models.Tenant) error {
	n.logger.InfoContext(ctx, "login code dispatched",
		"notifier", n.Name(),
		"destination", destination,
		"tenant_id", tenant.ID,
	)
	return nil
}

var _ models.Notifier = (*LogNotifier)(nil)
