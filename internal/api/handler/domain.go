package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	mw "github.com/kiranshivaraju/portalgate/internal/api/middleware"
	"github.com/kiranshivaraju/portalgate/internal/api/response"
	"github.com/kiranshivaraju/portalgate/internal/provisioning"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
)

// DomainService defines what the tenant domain handlers need from provisioning.
type DomainService interface {
	Request(ctx context.Context, tenantID int64, hostname string) (*provisioning.DomainStatus, error)
	Status(ctx context.Context, tenantID int64) (*provisioning.DomainStatus, error)
	Remove(ctx context.Context, tenantID int64) (bool, error)
	Events(ctx context.Context, tenantID int64, limit int) ([]*models.HostnameEvent, error)
}

// NewPutDomainHandler returns an http.HandlerFunc for PUT /api/v1/tenant/domain.
func NewPutDomainHandler(svc DomainService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			Hostname string `json:"hostname"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.Hostname) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "hostname is required", nil)
			return
		}

		status, err := svc.Request(r.Context(), tenantID, req.Hostname)
		if err != nil {
			domainError(w, r, err)
			return
		}
		if status.Status == models.DomainStatusFailed {
			// Rejected by the provider; the record and its remediation are still returned.
			response.Error(w, http.StatusUnprocessableEntity, "DOMAIN_REJECTED", derefOr(status.LastError, "Domain was rejected"), status)
			return
		}
		response.Accepted(w, status)
	}
}

// NewGetDomainHandler returns an http.HandlerFunc for GET /api/v1/tenant/domain.
func NewGetDomainHandler(svc DomainService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		status, err := svc.Status(r.Context(), tenantID)
		if err != nil {
			domainError(w, r, err)
			return
		}
		response.JSON(w, status)
	}
}

// NewDeleteDomainHandler returns an http.HandlerFunc for DELETE /api/v1/tenant/domain.
// 200 when the record is gone, 202 when provider cleanup is still pending.
func NewDeleteDomainHandler(svc DomainService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		purged, err := svc.Remove(r.Context(), tenantID)
		if err != nil {
			domainError(w, r, err)
			return
		}
		if !purged {
			response.Accepted(w, map[string]any{"removed": false, "status": "removal_pending"})
			return
		}
		response.JSON(w, map[string]any{"removed": true})
	}
}

// NewDomainEventsHandler returns an http.HandlerFunc for GET /api/v1/tenant/domain/events.
func NewDomainEventsHandler(svc DomainService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		limit := defaultEventLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxEventLimit)
		}

		events, err := svc.Events(r.Context(), tenantID, limit)
		if err != nil {
			domainError(w, r, err)
			return
		}
		if events == nil {
			events = []*models.HostnameEvent{}
		}
		response.Collection(w, events, response.PaginationMeta{
			Page:  1,
			Limit: limit,
			Total: len(events),
		})
	}
}

func domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalid):
		response.Error(w, http.StatusBadRequest, "INVALID_HOSTNAME", err.Error(), nil)
	case errors.Is(err, models.ErrNotFound):
		response.Error(w, http.StatusNotFound, "DOMAIN_NOT_FOUND", "No custom domain configured", nil)
	case errors.Is(err, models.ErrConflict):
		response.Error(w, http.StatusConflict, "DOMAIN_CONFLICT", err.Error(), nil)
	default:
		slog.Error("custom domain request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func derefOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
