package runtime

import (
	"context"
	"sync"
	"time"
)

// HealthState indicates the probed health of an integration credential.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthReport is a normalized health snapshot for one integration.
type HealthReport struct {
	IntegrationID string      `json:"integration_id"`
	State         HealthState `json:"state"`
	CheckedAt     time.Time   `json:"checked_at"`
	LatencyMS     int64       `json:"latency_ms,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
}

// CheckIntegrations probes credentials for the given integrations in
// parallel. This batched fan-out is the only internal parallelism in the
// substrate besides the deadman race: each probe is independent and
// read-only against the credential resolver.
func (r *Runtime) CheckIntegrations(ctx context.Context, orgID string, integrationIDs []string) []HealthReport {
	reports := make([]HealthReport, len(integrationIDs))

	var wg sync.WaitGroup
	for i, id := range integrationIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			reports[i] = r.checkOne(ctx, orgID, id)
		}(i, id)
	}
	wg.Wait()

	return reports
}

func (r *Runtime) checkOne(ctx context.Context, orgID, integrationID string) HealthReport {
	start := r.now()
	report := HealthReport{
		IntegrationID: integrationID,
		CheckedAt:     start,
	}

	token, err := r.creds.GetValidAccessToken(ctx, orgID, integrationID)
	report.LatencyMS = r.now().Sub(start).Milliseconds()

	switch {
	case err != nil:
		report.State = HealthUnhealthy
		report.ErrorMessage = err.Error()
	case token == "":
		report.State = HealthUnhealthy
		report.ErrorMessage = "no live credential"
	default:
		report.State = HealthHealthy
	}
	return report
}
