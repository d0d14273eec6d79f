package risk

import "github.com/shopspring/decimal"

// scorePlaces matches the NUMERIC(5,4) precision scores are stored with.
const scorePlaces = 4

func round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(scorePlaces).InexactFloat64()
}

// EngineeredScores derives the persisted per-domain scores from the
// normalized payload and the final prediction.
func EngineeredScores(d Domain, payload map[string]any, p Prediction) map[string]float64 {
	scores := make(map[string]float64, 3)
	switch d {
	case DomainClaim:
		scores["risk_score_normalized"] = round4(p.Probability)
		if ratio, ok := amountToCoverage(payload); ok {
			scores["amount_to_coverage_ratio"] = round4(ratio)
		}
		scores["documentation_score"] = 0
		if isTrue(payload["documentation_complete"]) {
			scores["documentation_score"] = 1
		}
	case DomainInvoice:
		scores["payment_delay_score"] = round4(p.Probability)
	case DomainAppointment:
		scores["no_show_risk_score"] = round4(p.Probability)
	}
	return scores
}

func amountToCoverage(payload map[string]any) (float64, bool) {
	amount, err := toFloat(payload["claim_amount"])
	if err != nil {
		return 0, false
	}
	limit, err := toFloat(payload["coverage_limit"])
	if err != nil || limit <= 0 {
		return 0, false
	}
	return decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(limit)).InexactFloat64(), true
}
