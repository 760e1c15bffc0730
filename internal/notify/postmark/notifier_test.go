package postmark_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/portalgate/internal/notify/postmark"
	"github.com/kiranshivaraju/portalgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresTokenAndSender(t *testing.T) {
	_, err := postmark.New(postmark.Config{SenderEmail: "portal@example.com"})
	assert.ErrorIs(t, err, postmark.ErrInvalidConfig)

	_, err = postmark.New(postmark.Config{ServerToken: "tok"})
	assert.ErrorIs(t, err, postmark.ErrInvalidConfig)
}

func TestSendCode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"pat@example.com","MessageID":"m-1","ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	n, err := postmark.New(postmark.Config{
		ServerToken: "server-token", SenderEmail: "portal@example.com",
		CodeTTL: 10 * time.Minute, BaseURL: srv.URL,
	})
	require.NoError(t, err)

	title := "Acme Billing"
	err = n.SendCode(context.Background(), "pat@example.com", "049381", &models.Tenant{ID: 1, Name: "Acme", PortalTitle: &title})
	require.NoError(t, err)

	assert.Equal(t, "portal@example.com", got["From"])
	assert.Equal(t, "pat@example.com", got["To"])
	assert.Equal(t, "Your Acme Billing login code", got["Subject"])
	assert.Contains(t, got["HtmlBody"], "049381")
	assert.Contains(t, got["TextBody"], "10 minutes")
}

func TestSendCode_PostmarkErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":406,"Message":"You tried to send to a recipient that has been marked as inactive."}`))
	}))
	defer srv.Close()

	n, err := postmark.New(postmark.Config{ServerToken: "tok", SenderEmail: "portal@example.com", BaseURL: srv.URL})
	require.NoError(t, err)

	err = n.SendCode(context.Background(), "pat@example.com", "111111", &models.Tenant{Name: "Acme"})
	assert.Error(t, err)
}
