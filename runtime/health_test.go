package runtime

import (
	"context"
	"errors"
	"testing"
)

func TestCheckIntegrationsReportsPerIntegration(t *testing.T) {
	f := newFixture(t, nil)

	reports := f.rt.CheckIntegrations(context.Background(), "org-1", []string{"github", "gmail"})
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	for _, r := range reports {
		if r.State != HealthHealthy {
			t.Errorf("%s state = %s, want %s", r.IntegrationID, r.State, HealthHealthy)
		}
		if r.CheckedAt.IsZero() {
			t.Errorf("%s has no checked_at timestamp", r.IntegrationID)
		}
	}
	if reports[0].IntegrationID != "github" || reports[1].IntegrationID != "gmail" {
		t.Errorf("report order does not match input: %+v", reports)
	}
}

func TestCheckIntegrationsUnhealthyStates(t *testing.T) {
	tests := []struct {
		name    string
		creds   fakeCredentials
		message string
	}{
		{"resolver error", fakeCredentials{err: errors.New("refresh rejected")}, "refresh rejected"},
		{"empty token", fakeCredentials{token: ""}, "no live credential"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(cfg *Config) { cfg.Credentials = tc.creds })

			reports := f.rt.CheckIntegrations(context.Background(), "org-1", []string{"github"})
			if len(reports) != 1 {
				t.Fatalf("reports = %d, want 1", len(reports))
			}
			if reports[0].State != HealthUnhealthy {
				t.Errorf("state = %s, want %s", reports[0].State, HealthUnhealthy)
			}
			if reports[0].ErrorMessage != tc.message {
				t.Errorf("message = %q, want %q", reports[0].ErrorMessage, tc.message)
			}
		})
	}
}

func TestCheckIntegrationsEmptyInput(t *testing.T) {
	f := newFixture(t, nil)
	if reports := f.rt.CheckIntegrations(context.Background(), "org-1", nil); len(reports) != 0 {
		t.Errorf("reports = %d, want 0", len(reports))
	}
}
