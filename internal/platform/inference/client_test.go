package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestPredict_Success(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody map[string]any

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"prediction": 1, "probability": 0.37}`))
	})

	c := NewClient(srv.URL+"/", zerolog.Nop())
	out := c.Predict(context.Background(), CapabilityDenial, map[string]any{"claim_amount": 1200})

	if !out.Available || out.Prediction != 1 || out.Probability != 0.37 {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if gotPath != "/predict/denial" {
		t.Errorf("expected /predict/denial, got %s", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %s", gotContentType)
	}
	if gotBody["claim_amount"] != float64(1200) {
		t.Errorf("expected flat payload, got %v", gotBody)
	}
}

func TestPredict_MissingFieldsDefaultToZero(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	out := NewClient(srv.URL, zerolog.Nop()).Predict(context.Background(), CapabilityNoShow, map[string]any{})
	if !out.Available || out.Prediction != 0 || out.Probability != 0 {
		t.Errorf("expected available (0, 0.0), got %+v", out)
	}
}

func TestPredict_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
		{"array body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[1, 0.9]`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.handler)
			out := NewClient(srv.URL, zerolog.Nop()).Predict(context.Background(), CapabilityPaymentDelay, map[string]any{})
			if out.Available {
				t.Errorf("expected unavailable, got %+v", out)
			}
		})
	}
}

func TestPredict_CoercesLooseFieldTypes(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		prediction  int
		probability float64
	}{
		{"numeric strings", `{"prediction": "1", "probability": "0.82"}`, 1, 0.82},
		{"padded string", `{"prediction": " 1 ", "probability": 0.6}`, 1, 0.6},
		{"fractional prediction truncates", `{"prediction": 1.9, "probability": 0.9}`, 1, 0.9},
		{"boolean prediction", `{"prediction": true, "probability": 0.7}`, 1, 0.7},
		{"non-numeric string reads as zero", `{"prediction": "yes", "probability": "high"}`, 0, 0},
		{"null reads as zero", `{"prediction": null, "probability": null}`, 0, 0},
		{"object reads as zero", `{"prediction": {"v": 1}, "probability": [0.5]}`, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			out := NewClient(srv.URL, zerolog.Nop()).Predict(context.Background(), CapabilityDenial, map[string]any{})
			if !out.Available {
				t.Fatalf("expected available outcome for %s", tt.body)
			}
			if out.Prediction != tt.prediction || out.Probability != tt.probability {
				t.Errorf("expected (%d, %v), got (%d, %v)", tt.prediction, tt.probability, out.Prediction, out.Probability)
			}
		})
	}
}

func TestPredict_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := NewClient(url, zerolog.Nop()).Predict(context.Background(), CapabilityDenial, map[string]any{})
	if out != Unavailable() {
		t.Errorf("expected unavailable outcome, got %+v", out)
	}
}

func TestPredict_SingleAttempt(t *testing.T) {
	calls := 0
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	NewClient(srv.URL, zerolog.Nop()).Predict(context.Background(), CapabilityDenial, map[string]any{})
	if calls != 1 {
		t.Errorf("expected exactly one attempt, got %d", calls)
	}
}

func TestPredictWithInsights_PassesObjectThrough(t *testing.T) {
	var gotPath string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"prediction": 0, "probability": 0.8, "insights": "ok", "extra": [1, 2]}`))
	})

	out, ok := NewClient(srv.URL, zerolog.Nop()).PredictWithInsights(context.Background(), "claim", map[string]any{"patient_name": "Asha"})
	if !ok {
		t.Fatal("expected success")
	}
	if gotPath != "/predict-with-insights/claim" {
		t.Errorf("expected /predict-with-insights/claim, got %s", gotPath)
	}
	if out["insights"] != "ok" {
		t.Errorf("expected insights passthrough, got %v", out["insights"])
	}
	if _, ok := out["extra"]; !ok {
		t.Error("expected unknown keys to be preserved")
	}
}

func TestStats(t *testing.T) {
	var gotMethod, gotPath string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{"acceptance_rate": 0.61, "total_claims": 1200}`))
	})

	out, ok := NewClient(srv.URL, zerolog.Nop()).Stats(context.Background(), "claims")
	if !ok {
		t.Fatal("expected success")
	}
	if gotMethod != http.MethodGet || gotPath != "/stats/claims" {
		t.Errorf("unexpected request %s %s", gotMethod, gotPath)
	}
	if out["acceptance_rate"] != 0.61 {
		t.Errorf("unexpected stats: %v", out)
	}
}

func TestStats_NonObjectIsUnavailable(t *testing.T) {
	for _, body := range []string{`[1,2,3]`, `null`, `"text"`} {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		if _, ok := NewClient(srv.URL, zerolog.Nop()).Stats(context.Background(), "invoices"); ok {
			t.Errorf("expected failure for body %s", body)
		}
	}
}
