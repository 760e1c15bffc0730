// Package postmark sends login codes as transactional email through Postmark.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/kiranshivaraju/portalgate/pkg/models"
	"github.com/mrz1836/postmark"
)

var ErrInvalidConfig = errors.New("invalid postmark configuration")

type Config struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
	CodeTTL      time.Duration
	// BaseURL overrides the Postmark API endpoint.
	BaseURL string
}

// Notifier implements models.Notifier with Postmark.
type Notifier struct {
	client *postmark.Client
	config Config
}

// New creates a Postmark-backed notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: sender email is required", ErrInvalidConfig)
	}
	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &Notifier{client: client, config: cfg}, nil
}

func (n *Notifier) Name() string { return "postmark" }

var codeEmail = template.Must(template.New("code").Parse(
	`<p>Your login code for {{.Portal}} is:</p>` +
		`<p style="font-size:28px;letter-spacing:6px;font-weight:bold">{{.Code}}</p>` +
		`<p>This code expires in {{.Minutes}} minutes. If you did not request it, you can ignore this email.</p>`))

// SendCode emails the code to destination. A Postmark error code in the response counts as failure.
func (n *Notifier) SendCode(ctx context.Context, destination, code string, tenant *models.Tenant) error {
	portal := tenant.Name
	if tenant.PortalTitle != nil && *tenant.PortalTitle != "" {
		portal = *tenant.PortalTitle
	}

	var body strings.Builder
	err := codeEmail.Execute(&body, map[string]any{
		"Portal":  portal,
		"Code":    code,
		"Minutes": int(n.config.CodeTTL.Minutes()),
	})
	if err != nil {
		return fmt.Errorf("render code email: %w", err)
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:       n.config.SenderEmail,
		To:         destination,
		Subject:    fmt.Sprintf("Your %s login code", portal),
		Tag:        "portal-login-code",
		HTMLBody:   body.String(),
		TextBody:   fmt.Sprintf("Your login code for %s is %s. It expires in %d minutes.", portal, code, int(n.config.CodeTTL.Minutes())),
		TrackOpens: false,
	})
	if err != nil {
		return fmt.Errorf("send code email: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

var _ models.Notifier = (*Notifier)(nil)
