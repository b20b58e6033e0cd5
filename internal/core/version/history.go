package version

import (
	"fmt"
	"time"
)

// NetworkHistory builds the complete artifact version history of the
// network, with the migrations between releases.
func NetworkHistory() *History {
	h := NewHistory()

	h.MustAdd(&ArtifactVersion{
		Version: "1.0.0",
		Date:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Changes: []string{
			"Initial implementation: 14 core invariants",
			"Invoice creation and validation",
			"Basic settlement flow",
			"Fraud detection",
		},
		ChangeType:        ChangeMajor,
		Author:            "itn_team",
		RequiresDowntime:  true,
		EstimatedDuration: 120 * time.Minute,
	})

	h.MustAdd(&ArtifactVersion{
		Version: "1.1.0",
		Date:    time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC),
		Changes: []string{
			"Added settlement deadline enforcement",
			"Added fraud score freshness enforcement",
			"Added FX rate freshness enforcement",
			"Added timestamp tracking infrastructure",
		},
		ChangeType: ChangeMinor,
		Migration: func(s State) (State, error) {
			s["timestamps"] = map[string]any{
				"settlement_deadlines":   map[string]any{},
				"fraud_score_calculated": map[string]any{},
				"fx_rate_fetched":        map[string]any{},
			}
			return s, nil
		},
		Rollback: func(s State) (State, error) {
			delete(s, "timestamps")
			return s, nil
		},
		Verification: func(s State) bool {
			_, ok := s["timestamps"]
			return ok
		},
		Author:            "itn_team",
		EstimatedDuration: 15 * time.Minute,
	})

	h.MustAdd(&ArtifactVersion{
		Version: "2.0.0",
		Date:    time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Changes: []string{
			"Added multi-currency support (USD, EUR, GBP, JPY)",
			"Added FX rate freshness enforcement",
			"Modified invoice schema to include currency field",
			"Added FX rate caching layer",
		},
		ChangeType: ChangeMajor,
		Migration: func(s State) (State, error) {
			if invoices, ok := s["invoices"].(map[string]any); ok {
				for _, raw := range invoices {
					inv, ok := raw.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("malformed invoice entry in state")
					}
					if _, has := inv["currency"]; !has {
						inv["currency"] = "USD"
						inv["fx_rate"] = 1.0
						inv["fx_timestamp"] = time.Now().UTC().Format(time.RFC3339)
					}
				}
			}
			s["fx_rates"] = map[string]any{
				"USD": 1.0,
				"EUR": 1.08,
				"GBP": 1.27,
				"JPY": 0.0067,
			}
			return s, nil
		},
		Rollback: func(s State) (State, error) {
			if invoices, ok := s["invoices"].(map[string]any); ok {
				for _, raw := range invoices {
					if inv, ok := raw.(map[string]any); ok {
						delete(inv, "currency")
						delete(inv, "fx_rate")
						delete(inv, "fx_timestamp")
					}
				}
			}
			delete(s, "fx_rates")
			return s, nil
		},
		Verification: func(s State) bool {
			if _, ok := s["fx_rates"]; !ok {
				return false
			}
			if invoices, ok := s["invoices"].(map[string]any); ok {
				for _, raw := range invoices {
					inv, ok := raw.(map[string]any)
					if !ok {
						return false
					}
					if _, has := inv["currency"]; !has {
						return false
					}
				}
			}
			return true
		},
		Author:            "itn_team",
		RequiresDowntime:  true,
		EstimatedDuration: 45 * time.Minute,
	})

	h.MustAdd(&ArtifactVersion{
		Version: "2.1.0",
		Date:    time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		Changes: []string{
			"Added acceptance signature verification",
			"Added per-supplier rate limiting",
			"Enhanced auth logging",
			"Added signature verification infrastructure",
		},
		ChangeType: ChangeMinor,
		Migration: func(s State) (State, error) {
			s["security"] = map[string]any{
				"rate_limits":          map[string]any{},
				"failed_auth_attempts": map[string]any{},
				"signature_keys":       map[string]any{},
			}
			return s, nil
		},
		Rollback: func(s State) (State, error) {
			delete(s, "security")
			return s, nil
		},
		Verification: func(s State) bool {
			_, ok := s["security"]
			return ok
		},
		Author:            "security_team",
		EstimatedDuration: 20 * time.Minute,
	})

	return h
}
