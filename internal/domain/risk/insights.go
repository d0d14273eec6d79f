package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	placeholderPatient = "Patient"
	unknownInsurer     = "Unknown"
	claimSampleSize    = 400
)

var (
	acceptanceFloor   = decimal.RequireFromString("0.15")
	acceptanceCeiling = decimal.RequireFromString("0.95")
	acceptanceBonus   = decimal.RequireFromString("0.05")
	half              = decimal.RequireFromString("0.5")
	hundred           = decimal.NewFromInt(100)
)

// acceptanceBase is the historical acceptance rate for a claim amount.
func acceptanceBase(amount float64) decimal.Decimal {
	switch {
	case amount > 200000:
		return decimal.RequireFromString("0.35")
	case amount > 100000:
		return decimal.RequireFromString("0.45")
	case amount > 50000:
		return decimal.RequireFromString("0.55")
	case amount > 20000:
		return decimal.RequireFromString("0.65")
	case amount < 5000:
		return decimal.RequireFromString("0.85")
	default:
		return decimal.RequireFromString("0.75")
	}
}

// AcceptanceEstimate is the locally estimated acceptance rate of a claim,
// clamped to [0.15, 0.95].
func AcceptanceEstimate(in ClaimInputs) decimal.Decimal {
	acc := acceptanceBase(in.Amount)
	if in.DocumentationComplete {
		acc = acc.Add(acceptanceBonus)
	}
	if in.PreauthObtained {
		acc = acc.Add(acceptanceBonus)
	}
	return decimal.Min(acceptanceCeiling, decimal.Max(acceptanceFloor, acc))
}

// AcceptancePercent rounds acc*100 half-up to a whole percent.
func AcceptancePercent(acc decimal.Decimal) int {
	return int(acc.Mul(hundred).Round(0).IntPart())
}

// PatientDisplayName reads patient_name or patientName from the raw bag and
// falls back to the "Patient" placeholder.
func PatientDisplayName(bag map[string]any) string {
	for _, key := range []string{"patient_name", "patientName"} {
		if s, ok := bag[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return placeholderPatient
}

func insurerName(payload map[string]any) string {
	if s, ok := payload["insurance_provider"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return unknownInsurer
}

// formatRupees renders amount with thousands separators and no decimals.
func formatRupees(amount float64) string {
	whole := decimal.NewFromFloat(amount).Round(0).IntPart()
	return "₹" + message.NewPrinter(language.English).Sprint(number.Decimal(whole))
}

// ClaimNarrative explains a claim's estimated acceptance in plain language.
func ClaimNarrative(patient, insurer string, in ClaimInputs, acceptancePct int) string {
	var b strings.Builder
	b.WriteString("Based on historical patterns for claims similar to ")
	if patient != placeholderPatient {
		b.WriteString(patient + "'s ")
	}
	fmt.Fprintf(&b, "(%s with %s): %d%% estimated acceptance, %d%% denial risk. ",
		formatRupees(in.Amount), insurer, acceptancePct, 100-acceptancePct)

	if acceptancePct < 50 {
		b.WriteString("Higher claim amounts often require stronger documentation. ")
	}
	if !in.DocumentationComplete {
		b.WriteString("Ensure all documentation is complete before submission. ")
	}
	if !in.PreauthObtained {
		b.WriteString("Obtain pre-authorization when required by your insurer. ")
	}
	b.WriteString("Timely submission and accurate ICD/CPT codes improve approval odds.")
	return b.String()
}

// claimInsightsReport is the locally computed insights report used when the
// inference service cannot produce one.
func claimInsightsReport(in ClaimInputs, patient, insurer string) map[string]any {
	acc := AcceptanceEstimate(in)
	accPct := AcceptancePercent(acc)
	denial := decimal.NewFromInt(1).Sub(acc)

	prediction, probability := 0, acc
	if acc.LessThan(half) {
		prediction, probability = 1, denial
	}

	return map[string]any{
		"prediction":          prediction,
		"probability":         probability.InexactFloat64(),
		"acceptance_rate_pct": float64(accPct),
		"denial_rate_pct":     float64(100 - accPct),
		"historical_stats": map[string]any{
			"acceptance_rate": acc.InexactFloat64(),
			"denial_rate":     denial.InexactFloat64(),
			"total_claims":    claimSampleSize,
		},
		"insights": ClaimNarrative(patient, insurer, in, accPct),
	}
}

// staticInsightsReport is the neutral report for domains without a local
// estimator. Every domain carries the same keys as the claim report.
func staticInsightsReport() map[string]any {
	return map[string]any{
		"prediction":          0,
		"probability":         0.5,
		"acceptance_rate_pct": 50.0,
		"denial_rate_pct":     50.0,
		"historical_stats":    map[string]any{},
		"insights":            "Unable to load prediction. Please try again.",
	}
}
