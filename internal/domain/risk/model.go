package risk

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/inference"
)

var (
	ErrUnknownDomain    = errors.New("unknown risk domain")
	ErrInvalidFeature   = errors.New("invalid feature value")
	ErrSnapshotNotFound = errors.New("feature snapshot not found")
)

// Domain is one of the three scoring contexts.
type Domain string

const (
	DomainClaim       Domain = "claim"
	DomainInvoice     Domain = "invoice"
	DomainAppointment Domain = "appointment"
)

// ParseDomain accepts the singular or plural form, case-insensitively.
func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claim", "claims":
		return DomainClaim, nil
	case "invoice", "invoices":
		return DomainInvoice, nil
	case "appointment", "appointments":
		return DomainAppointment, nil
	}
	return "", ErrUnknownDomain
}

// Capability is the /predict endpoint serving the domain.
func (d Domain) Capability() inference.Capability {
	switch d {
	case DomainInvoice:
		return inference.CapabilityPaymentDelay
	case DomainAppointment:
		return inference.CapabilityNoShow
	default:
		return inference.CapabilityDenial
	}
}

// Plural is the collection name used by the stats endpoints.
func (d Domain) Plural() string {
	return string(d) + "s"
}

// Source records which producer supplied a prediction.
type Source string

const (
	SourceModel       Source = "model"
	SourceHeuristic   Source = "heuristic"
	SourceUnavailable Source = "unavailable"
)

type Prediction struct {
	Label       int     `json:"prediction"`
	Probability float64 `json:"probability"`
	Source      Source  `json:"source"`
}

// Snapshot is the latest engineered scores and prediction for one record.
type Snapshot struct {
	ID            uuid.UUID          `json:"id"`
	Domain        Domain             `json:"domain"`
	ParentID      uuid.UUID          `json:"parent_id"`
	Scores        map[string]float64 `json:"scores"`
	MLPrediction  int                `json:"ml_prediction"`
	MLProbability float64            `json:"ml_probability"`
	Source        Source             `json:"source"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
