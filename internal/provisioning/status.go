package provisioning

import (
	"time"

	"github.com/kiranshivaraju/portalgate/pkg/models"
)

// DNSRecord is one record the tenant must publish at their DNS host.
type DNSRecord struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Purpose string `json:"purpose"`
}

// DomainStatus is the tenant-facing view of a custom hostname. Internal
// bookkeeping states are folded into the four public statuses.
type DomainStatus struct {
	RecordID      string      `json:"record_id"`
	Hostname      string      `json:"hostname"`
	Status        string      `json:"status"`
	LastError     *string     `json:"last_error,omitempty"`
	Records       []DNSRecord `json:"dns_records"`
	LastCheckedAt *time.Time  `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	internal string
}

// InternalStatus returns the provisioning status behind Status.
func (d *DomainStatus) InternalStatus() string { return d.internal }

func newDomainStatus(rec *models.CustomHostname) *DomainStatus {
	d := &DomainStatus{
		RecordID:      rec.ID.String(),
		Hostname:      rec.Hostname,
		Status:        rec.PublicStatus(),
		LastError:     rec.LastError,
		LastCheckedAt: rec.LastCheckedAt,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		internal:      rec.Status,
	}
	if rec.TargetCNAME != "" {
		d.Records = append(d.Records, DNSRecord{Type: "CNAME", Name: rec.Hostname, Value: rec.TargetCNAME, Purpose: "routing"})
	}
	if rec.VerificationName != nil && rec.VerificationToken != nil && *rec.VerificationName != "" {
		d.Records = append(d.Records, DNSRecord{Type: "TXT", Name: *rec.VerificationName, Value: *rec.VerificationToken, Purpose: "ownership"})
	}
	if rec.DCVTarget != nil && *rec.DCVTarget != "" {
		d.Records = append(d.Records, DNSRecord{Type: "CNAME", Name: "_acme-challenge." + rec.Hostname, Value: *rec.DCVTarget, Purpose: "certificate"})
	}
	if d.Records == nil {
		d.Records = []DNSRecord{}
	}
	return d
}
