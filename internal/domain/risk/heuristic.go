package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/inference"
)

// ClaimInputs are the claim features the fallback rules read.
type ClaimInputs struct {
	Amount                float64
	DocumentationComplete bool
	PreauthRequired       bool
	PreauthObtained       bool
}

// ClaimInputsFromPayload extracts ClaimInputs from a normalized claim payload.
// Flags are true only for a literal boolean true.
func ClaimInputsFromPayload(payload map[string]any) (ClaimInputs, error) {
	amount, err := toFloat(payload["claim_amount"])
	if err != nil {
		return ClaimInputs{}, fmt.Errorf("%w: claim_amount: %v", ErrInvalidFeature, err)
	}
	return ClaimInputs{
		Amount:                amount,
		DocumentationComplete: isTrue(payload["documentation_complete"]),
		PreauthRequired:       isTrue(payload["preauthorization_required"]),
		PreauthObtained:       isTrue(payload["preauthorization_obtained"]),
	}, nil
}

var (
	denialFloor   = decimal.RequireFromString("0.10")
	denialCeiling = decimal.RequireFromString("0.95")
	labelCutoff   = decimal.RequireFromString("0.5")
)

// denialBase is the base denial probability for a claim amount.
func denialBase(amount float64) decimal.Decimal {
	switch {
	case amount > 200000:
		return decimal.RequireFromString("0.82")
	case amount > 100000:
		return decimal.RequireFromString("0.75")
	case amount > 50000:
		return decimal.RequireFromString("0.72")
	case amount > 20000:
		return decimal.RequireFromString("0.55")
	case amount < 5000:
		return decimal.RequireFromString("0.18")
	default:
		return decimal.RequireFromString("0.42")
	}
}

// DenialRisk scores a claim from its amount tier, documentation and
// pre-authorization. The result is clamped to [0.10, 0.95].
func DenialRisk(in ClaimInputs) Prediction {
	p := denialBase(in.Amount)
	if !in.DocumentationComplete {
		p = p.Add(decimal.RequireFromString("0.08"))
	}
	if in.PreauthRequired && !in.PreauthObtained {
		p = p.Add(decimal.RequireFromString("0.05"))
	}
	p = decimal.Min(denialCeiling, decimal.Max(denialFloor, p))

	label := 0
	if p.GreaterThanOrEqual(labelCutoff) {
		label = 1
	}
	return Prediction{Label: label, Probability: p.InexactFloat64(), Source: SourceHeuristic}
}

// needsClaimFallback reports whether a denial outcome must be replaced by
// the heuristic: the call failed, or it returned the ambiguous (0, 0.0).
func needsClaimFallback(o inference.Outcome) bool {
	return !o.Available || (o.Prediction == 0 && o.Probability == 0)
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func toFloat(v any) (float64, error) {
	f, err := rawFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}

func rawFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
