package risk

// Field is one canonical payload key. Aliases lists the raw bag keys it is
// read from, in priority order; an empty list means the key itself.
type Field struct {
	Key     string
	Aliases []string
	Default any
}

func (f Field) sources() []string {
	if len(f.Aliases) == 0 {
		return []string{f.Key}
	}
	return f.Aliases
}

var claimSchema = []Field{
	{Key: "claim_amount", Aliases: []string{"amount"}, Default: 5000},
	{Key: "coverage_limit", Default: 50000},
	{Key: "deductible_amount", Default: 500},
	{Key: "insurance_provider", Default: "Unknown"},
	{Key: "policy_type", Default: "PPO"},
	{Key: "preauthorization_required", Default: false},
	{Key: "preauthorization_obtained", Default: false},
	{Key: "primary_icd_code", Default: "J06.9"},
	{Key: "secondary_icd_code", Default: ""},
	{Key: "cpt_code", Default: "99213"},
	{Key: "procedure_category", Default: "Outpatient"},
	{Key: "medical_necessity_score", Default: 70},
	{Key: "prior_denial_count", Default: 0},
	{Key: "resubmission_count", Default: 0},
	{Key: "days_to_submission", Default: 30},
	{Key: "documentation_complete", Default: true},
	{Key: "claim_type", Default: "OUTPATIENT"},
	{Key: "patient_age", Default: 40},
	{Key: "patient_gender", Default: "MALE"},
	{Key: "chronic_condition_flag", Default: false},
	{Key: "doctor_specialization", Default: "General Medicine"},
	{Key: "hospital_tier", Default: "TIER2"},
	{Key: "hospital_claim_success_rate", Default: 0.8},
}

var invoiceSchema = []Field{
	{Key: "total_amount", Default: 0},
	{Key: "days_to_payment", Default: 0},
	{Key: "payer_type", Default: "SELF"},
	{Key: "invoice_category", Default: "CONSULTATION"},
	{Key: "reminder_count", Default: 0},
	{Key: "installment_plan", Default: false},
	{Key: "historical_avg_payment_delay", Default: 14},
	{Key: "patient_age", Default: 40},
	{Key: "patient_gender", Default: "MALE"},
	{Key: "previous_late_payments", Default: 0},
	{Key: "payment_status", Default: "UNPAID"},
}

var appointmentSchema = []Field{
	{Key: "booking_lead_time_days", Default: 7},
	{Key: "appointment_type", Default: "CONSULTATION"},
	{Key: "time_slot", Default: "10:00"},
	{Key: "weekday", Default: "Monday"},
	{Key: "previous_no_show_count", Default: 0},
	{Key: "reminder_count", Default: 1},
	{Key: "sms_reminder_sent", Default: true},
	{Key: "distance_from_hospital_km", Default: 10},
	{Key: "patient_age", Default: 40},
	{Key: "patient_gender", Default: "MALE"},
	{Key: "consultation_fee", Default: 300},
	{Key: "previous_late_payments", Default: 0},
}

// Schema returns the ordered field list for d, or nil for an unknown domain.
func Schema(d Domain) []Field {
	switch d {
	case DomainClaim:
		return claimSchema
	case DomainInvoice:
		return invoiceSchema
	case DomainAppointment:
		return appointmentSchema
	}
	return nil
}

// Normalize builds the canonical feature payload for d. Every schema key is
// present exactly once; values found in bag are copied without coercion and
// absent or nil ones take the default. bag is not modified.
func Normalize(d Domain, bag map[string]any) map[string]any {
	fields := Schema(d)
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Default
		for _, src := range f.sources() {
			if v, ok := bag[src]; ok && v != nil {
				out[f.Key] = v
				break
			}
		}
	}
	return out
}
