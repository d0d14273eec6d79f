package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAcceptanceEstimate(t *testing.T) {
	tests := []struct {
		name string
		in   ClaimInputs
		want string
	}{
		{"large, nothing in order", ClaimInputs{Amount: 250000}, "0.35"},
		{"large, documented and preauthorized", ClaimInputs{Amount: 250000, DocumentationComplete: true, PreauthObtained: true}, "0.45"},
		{"mid tier", ClaimInputs{Amount: 60000, DocumentationComplete: true}, "0.6"},
		{"default tier", ClaimInputs{Amount: 10000}, "0.75"},
		{"small, capped", ClaimInputs{Amount: 3000, DocumentationComplete: true, PreauthObtained: true}, "0.95"},
	}
	for _, tt := range tests {
		got := AcceptanceEstimate(tt.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s: got %s", tt.name, got)
	}
}

func TestAcceptancePercent_RoundsHalfUp(t *testing.T) {
	assert.Equal(t, 35, AcceptancePercent(decimal.RequireFromString("0.35")))
	assert.Equal(t, 35, AcceptancePercent(decimal.RequireFromString("0.345")))
	assert.Equal(t, 13, AcceptancePercent(decimal.RequireFromString("0.125")))
	assert.Equal(t, 95, AcceptancePercent(decimal.RequireFromString("0.95")))
}

func TestClaimNarrative_LargeClaim(t *testing.T) {
	in := ClaimInputs{Amount: 250000}
	got := ClaimNarrative("Patient", "Unknown", in, 35)

	want := "Based on historical patterns for claims similar to (₹250,000 with Unknown): " +
		"35% estimated acceptance, 65% denial risk. " +
		"Higher claim amounts often require stronger documentation. " +
		"Ensure all documentation is complete before submission. " +
		"Obtain pre-authorization when required by your insurer. " +
		"Timely submission and accurate ICD/CPT codes improve approval odds."
	assert.Equal(t, want, got)
}

func TestClaimNarrative_NamedPatientInGoodStanding(t *testing.T) {
	in := ClaimInputs{Amount: 3000, DocumentationComplete: true, PreauthObtained: true}
	got := ClaimNarrative("Asha Rao", "Star Health", in, 95)

	want := "Based on historical patterns for claims similar to Asha Rao's (₹3,000 with Star Health): " +
		"95% estimated acceptance, 5% denial risk. " +
		"Timely submission and accurate ICD/CPT codes improve approval odds."
	assert.Equal(t, want, got)
}

func TestPatientDisplayName(t *testing.T) {
	assert.Equal(t, "Asha", PatientDisplayName(map[string]any{"patient_name": "  Asha "}))
	assert.Equal(t, "Ravi", PatientDisplayName(map[string]any{"patientName": "Ravi"}))
	assert.Equal(t, "Ravi", PatientDisplayName(map[string]any{"patient_name": "   ", "patientName": "Ravi"}))
	assert.Equal(t, "Patient", PatientDisplayName(map[string]any{"patient_name": 42}))
	assert.Equal(t, "Patient", PatientDisplayName(nil))
}

func TestClaimInsightsReport(t *testing.T) {
	report := claimInsightsReport(ClaimInputs{Amount: 250000}, "Patient", "Unknown")

	assert.Equal(t, 1, report["prediction"])
	assert.Equal(t, 0.65, report["probability"])
	assert.Equal(t, 35.0, report["acceptance_rate_pct"])
	assert.Equal(t, 65.0, report["denial_rate_pct"])
	assert.Equal(t, map[string]any{
		"acceptance_rate": 0.35,
		"denial_rate":     0.65,
		"total_claims":    400,
	}, report["historical_stats"])
	assert.Contains(t, report["insights"], "Ensure all documentation is complete")
	assert.Contains(t, report["insights"], "Obtain pre-authorization")
}

func TestClaimInsightsReport_LikelyAccepted(t *testing.T) {
	report := claimInsightsReport(ClaimInputs{Amount: 3000, DocumentationComplete: true, PreauthObtained: true}, "Patient", "Unknown")
	assert.Equal(t, 0, report["prediction"])
	assert.Equal(t, 0.95, report["probability"])
}

func TestStaticInsightsReport(t *testing.T) {
	report := staticInsightsReport()
	assert.Equal(t, 0, report["prediction"])
	assert.Equal(t, 0.5, report["probability"])
	assert.Equal(t, 50.0, report["acceptance_rate_pct"])
	assert.Equal(t, 50.0, report["denial_rate_pct"])
	assert.Equal(t, map[string]any{}, report["historical_stats"])
	assert.Equal(t, "Unable to load prediction. Please try again.", report["insights"])
	assert.NotContains(t, report, "on_time_rate_pct")
	assert.NotContains(t, report, "no_show_rate_pct")
}
