package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

const tenantColumns = `id, slug, name, portal_enabled, custom_domain, custom_domain_status,
	portal_title, portal_description, logo_url, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.PortalEnabled, &t.CustomDomain, &t.CustomDomainStatus,
		&t.PortalTitle, &t.PortalDescription, &t.LogoURL, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if t.CustomDomainStatus == "" {
		t.CustomDomainStatus = models.DomainStatusNone
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (slug, name, portal_enabled, custom_domain_status, portal_title, portal_description, logo_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		t.Slug, t.Name, t.PortalEnabled, t.CustomDomainStatus, t.PortalTitle, t.PortalDescription, t.LogoURL,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTenantByID(ctx context.Context, id int64) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by id: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by slug: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTenantByCustomDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE lower(custom_domain) = lower($1)`, domain))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by custom domain: %w", err)
	}
	return t, nil
}

// --- Customers ---

func (s *PostgresStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO customers (tenant_id, email, first_name, last_name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		c.TenantID, c.Email, c.FirstName, c.LastName,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, first_name, last_name, created_at FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.TenantID, &c.Email, &c.FirstName, &c.LastName, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetCustomerByEmail(ctx context.Context, tenantID int64, email string) (*models.Customer, error) {
	var c models.Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, first_name, last_name, created_at
		 FROM customers WHERE tenant_id = $1 AND lower(email) = lower($2)`, tenantID, email,
	).Scan(&c.ID, &c.TenantID, &c.Email, &c.FirstName, &c.LastName, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer by email: %w", err)
	}
	return &c, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Custom Hostnames ---

const hostnameColumns = `id, tenant_id, hostname, provider_record_id, verification_token, verification_name,
	target_cname, dcv_target, status, last_error, attempts, next_check_at, last_checked_at, started_at, created_at, updated_at`

func scanHostname(row pgx.Row) (*models.CustomHostname, error) {
	var h models.CustomHostname
	err := row.Scan(&h.ID, &h.TenantID, &h.Hostname, &h.ProviderRecordID, &h.VerificationToken, &h.VerificationName,
		&h.TargetCNAME, &h.DCVTarget, &h.Status, &h.LastError, &h.Attempts, &h.NextCheckAt, &h.LastCheckedAt,
		&h.StartedAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func collectHostnames(rows pgx.Rows) ([]*models.CustomHostname, error) {
	defer rows.Close()
	var out []*models.CustomHostname
	for rows.Next() {
		h, err := scanHostname(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custom hostname: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CreateCustomHostname inserts a new record, its first audit event, and the tenant projection in one transaction.
// A hostname or tenant already holding a live record yields ErrDuplicateKey.
func (s *PostgresStore) CreateCustomHostname(ctx context.Context, h *models.CustomHostname, reason string) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	now := time.Now().UTC()
	h.CreatedAt, h.UpdatedAt = now, now
	if h.StartedAt.IsZero() {
		h.StartedAt = now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create custom hostname: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO custom_hostnames (id, tenant_id, hostname, target_cname, dcv_target, status, attempts, next_check_at, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		h.ID, h.TenantID, h.Hostname, h.TargetCNAME, h.DCVTarget, h.Status, h.Attempts, h.NextCheckAt, h.StartedAt, now, now)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create custom hostname: %w", err)
	}

	if err := insertEvent(ctx, tx, h, models.DomainStatusNone, h.Status, reason, now); err != nil {
		return err
	}
	if err := projectTenant(ctx, tx, h.TenantID, h.Hostname, h.Status, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("commit create custom hostname: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCustomHostname(ctx context.Context, id uuid.UUID) (*models.CustomHostname, error) {
	h, err := scanHostname(s.pool.QueryRow(ctx,
		`SELECT `+hostnameColumns+` FROM custom_hostnames WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get custom hostname: %w", err)
	}
	return h, nil
}

// GetCustomHostnameByTenant returns the tenant's live record, ignoring records awaiting provider cleanup.
func (s *PostgresStore) GetCustomHostnameByTenant(ctx context.Context, tenantID int64) (*models.CustomHostname, error) {
	h, err := scanHostname(s.pool.QueryRow(ctx,
		`SELECT `+hostnameColumns+` FROM custom_hostnames WHERE tenant_id = $1 AND status <> 'removed_pending'`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get custom hostname by tenant: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) GetCustomHostnameByHostname(ctx context.Context, hostname string) (*models.CustomHostname, error) {
	h, err := scanHostname(s.pool.QueryRow(ctx,
		`SELECT `+hostnameColumns+` FROM custom_hostnames WHERE lower(hostname) = lower($1)`, hostname))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get custom hostname by hostname: %w", err)
	}
	return h, nil
}

// ListCustomHostnamesByTenant returns every record for the tenant, including those awaiting cleanup.
func (s *PostgresStore) ListCustomHostnamesByTenant(ctx context.Context, tenantID int64) ([]*models.CustomHostname, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+hostnameColumns+` FROM custom_hostnames WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list custom hostnames: %w", err)
	}
	return collectHostnames(rows)
}

// ListDueCustomHostnames returns records that need provider work and whose next check time has passed.
func (s *PostgresStore) ListDueCustomHostnames(ctx context.Context, now time.Time, limit int) ([]*models.CustomHostname, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+hostnameColumns+` FROM custom_hostnames
		 WHERE status IN ('requested', 'pending_verification', 'removed_pending')
		   AND (next_check_at IS NULL OR next_check_at <= $1)
		 ORDER BY next_check_at NULLS FIRST
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due custom hostnames: %w", err)
	}
	return collectHostnames(rows)
}

var validTransitions = map[string][]string{
	models.HostnameStatusRequested: {
		models.HostnameStatusRequested, models.HostnameStatusPendingVerification,
		models.HostnameStatusFailed, models.HostnameStatusRemovedPending,
	},
	models.HostnameStatusPendingVerification: {
		models.HostnameStatusPendingVerification, models.HostnameStatusActive,
		models.HostnameStatusFailed, models.HostnameStatusRemovedPending,
	},
	models.HostnameStatusActive: {models.HostnameStatusActive, models.HostnameStatusRemovedPending},
	models.HostnameStatusFailed: {
		models.HostnameStatusFailed, models.HostnameStatusPendingVerification,
		models.HostnameStatusRequested, models.HostnameStatusRemovedPending,
	},
	models.HostnameStatusRemovedPending: {models.HostnameStatusRemovedPending},
}

// ValidTransition reports whether a record may move from one status to another.
// Same-status moves are bookkeeping updates and are allowed for every status.
func ValidTransition(from, to string) bool {
	return slices.Contains(validTransitions[from], to)
}

// TransitionCustomHostname moves a record from one status to another. The write only happens if the
// record is still in from; otherwise ErrStale is returned. A status change also appends an audit
// event and rewrites the tenant projection inside the same transaction.
func (s *PostgresStore) TransitionCustomHostname(ctx context.Context, id uuid.UUID, from, to, reason string, opts ...HostnameUpdateOption) (*models.CustomHostname, error) {
	if !ValidTransition(from, to) {
		return nil, fmt.Errorf("invalid custom hostname status transition: %s -> %s", from, to)
	}

	params := ApplyHostnameOptions(opts...)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanHostname(tx.QueryRow(ctx,
		`SELECT `+hostnameColumns+` FROM custom_hostnames WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock custom hostname: %w", err)
	}
	if current.Status != from {
		return nil, ErrStale
	}

	now := time.Now().UTC()
	query := `UPDATE custom_hostnames SET status = $2, updated_at = $3`
	args := []any{id, to, now}
	argIdx := 4

	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = $%d", column, argIdx)
		args = append(args, value)
		argIdx++
	}
	if params.ProviderRecordID != nil {
		set("provider_record_id", *params.ProviderRecordID)
	}
	if params.VerificationToken != nil {
		set("verification_token", *params.VerificationToken)
	}
	if params.VerificationName != nil {
		set("verification_name", *params.VerificationName)
	}
	if params.DCVTarget != nil {
		set("dcv_target", *params.DCVTarget)
	}
	if params.LastError != nil {
		set("last_error", *params.LastError)
	} else if params.ClearLastError {
		query += ", last_error = NULL"
	}
	if params.Attempts != nil {
		set("attempts", *params.Attempts)
	}
	if params.NextCheckAt != nil {
		set("next_check_at", *params.NextCheckAt)
	} else if params.ClearNextCheckAt {
		query += ", next_check_at = NULL"
	}
	if params.LastCheckedAt != nil {
		set("last_checked_at", *params.LastCheckedAt)
	}
	if params.StartedAt != nil {
		set("started_at", *params.StartedAt)
	}
	query += " WHERE id = $1 RETURNING " + hostnameColumns

	updated, err := scanHostname(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update custom hostname: %w", err)
	}

	if from != to {
		if err := insertEvent(ctx, tx, updated, from, to, reason, now); err != nil {
			return nil, err
		}
		if err := projectTenant(ctx, tx, updated.TenantID, updated.Hostname, to, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

// PurgeCustomHostname deletes a record that is awaiting cleanup and records the final audit event.
func (s *PostgresStore) PurgeCustomHostname(ctx context.Context, id uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	h, err := scanHostname(tx.QueryRow(ctx,
		`DELETE FROM custom_hostnames WHERE id = $1 AND status = 'removed_pending' RETURNING `+hostnameColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("purge custom hostname: %w", err)
	}

	if err := insertEvent(ctx, tx, h, models.HostnameStatusRemovedPending, models.HostnameStatusRemoved, reason, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListHostnameEvents(ctx context.Context, tenantID int64, limit int) ([]*models.HostnameEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, record_id, tenant_id, hostname, from_status, to_status, reason, created_at
		 FROM custom_hostname_events WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list hostname events: %w", err)
	}
	defer rows.Close()

	var events []*models.HostnameEvent
	for rows.Next() {
		var e models.HostnameEvent
		if err := rows.Scan(&e.ID, &e.RecordID, &e.TenantID, &e.Hostname, &e.FromStatus, &e.ToStatus,
			&e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hostname event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, tx pgx.Tx, h *models.CustomHostname, from, to, reason string, at time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO custom_hostname_events (id, record_id, tenant_id, hostname, from_status, to_status, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), h.ID, h.TenantID, h.Hostname, from, to, reason, at)
	if err != nil {
		return fmt.Errorf("insert hostname event: %w", err)
	}
	return nil
}

// projectTenant rewrites the tenant's custom domain fields for a record now in status.
func projectTenant(ctx context.Context, tx pgx.Tx, tenantID int64, hostname, status string, at time.Time) error {
	var err error
	switch status {
	case models.HostnameStatusRemovedPending:
		_, err = tx.Exec(ctx,
			`UPDATE tenants SET custom_domain = NULL, custom_domain_status = 'none', updated_at = $3
			 WHERE id = $1 AND lower(custom_domain) = lower($2)`, tenantID, hostname, at)
	default:
		h := models.CustomHostname{Status: status}
		_, err = tx.Exec(ctx,
			`UPDATE tenants SET custom_domain = $2, custom_domain_status = $3, updated_at = $4 WHERE id = $1`,
			tenantID, hostname, h.PublicStatus(), at)
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("project tenant custom domain: %w", err)
	}
	return nil
}

// --- One-Time Codes ---

func (s *PostgresStore) CreateOneTimeCode(ctx context.Context, code *models.OneTimeCode) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO one_time_codes (id, email, tenant_id, code_hash, created_at, expires_at, used)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		code.ID, code.Email, code.TenantID, code.CodeHash, code.CreatedAt, code.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create one-time code: %w", err)
	}
	return nil
}

// ListRecentOneTimeCodes returns the newest codes issued for (tenant, email), newest first.
func (s *PostgresStore) ListRecentOneTimeCodes(ctx context.Context, tenantID int64, email string, limit int) ([]*models.OneTimeCode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, tenant_id, code_hash, created_at, expires_at, used, used_at
		 FROM one_time_codes WHERE tenant_id = $1 AND email = $2
		 ORDER BY created_at DESC LIMIT $3`, tenantID, email, limit)
	if err != nil {
		return nil, fmt.Errorf("list one-time codes: %w", err)
	}
	defer rows.Close()

	var codes []*models.OneTimeCode
	for rows.Next() {
		var c models.OneTimeCode
		if err := rows.Scan(&c.ID, &c.Email, &c.TenantID, &c.CodeHash, &c.CreatedAt, &c.ExpiresAt,
			&c.Used, &c.UsedAt); err != nil {
			return nil, fmt.Errorf("scan one-time code: %w", err)
		}
		codes = append(codes, &c)
	}
	return codes, rows.Err()
}

func (s *PostgresStore) CountOneTimeCodesSince(ctx context.Context, tenantID int64, email string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM one_time_codes WHERE tenant_id = $1 AND email = $2 AND created_at >= $3`,
		tenantID, email, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count one-time codes: %w", err)
	}
	return n, nil
}

// MarkOneTimeCodeUsed flips used from false to true. Exactly one caller can win; the rest get ErrStale.
func (s *PostgresStore) MarkOneTimeCodeUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE one_time_codes SET used = TRUE, used_at = $2 WHERE id = $1 AND used = FALSE`, id, at)
	if err != nil {
		return fmt.Errorf("mark one-time code used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// --- Sessions ---

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.CustomerSession) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO customer_sessions (token_hash, customer_id, tenant_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.TokenHash, sess.CustomerID, sess.TenantID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, tokenHash string) (*models.CustomerSession, error) {
	var sess models.CustomerSession
	err := s.pool.QueryRow(ctx,
		`SELECT token_hash, customer_id, tenant_id, created_at, expires_at
		 FROM customer_sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&sess.TokenHash, &sess.CustomerID, &sess.TenantID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM customer_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM customer_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
