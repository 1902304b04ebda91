package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/forgeworks-ai/toolforge/registry"
	"github.com/forgeworks-ai/toolforge/spec"
)

// devRegistry builds a capability registry from a spec's own integration
// declarations. Every declared capability gets an echo executor, so specs
// compile and run locally without live integrations.
func devRegistry(s *spec.ToolSystemSpec) *registry.Registry {
	reg := registry.New()
	for _, integration := range s.Integrations {
		for _, capID := range integration.Capabilities {
			reg.Register(registry.Capability{
				ID:            capID,
				IntegrationID: integration.ID,
				Description:   "development echo capability",
			}, echoExecutor(capID))
		}
	}
	return reg
}

func echoExecutor(capID string) registry.Executor {
	return registry.ExecutorFunc(func(ctx context.Context, params map[string]any, execCtx map[string]any, tracer registry.Tracer) (any, error) {
		tracer.Trace("dev.echo", map[string]any{"capability": capID})
		return map[string]any{
			"capability": capID,
			"params":     params,
		}, nil
	})
}

// devCredentials resolves every integration to a fixed development token.
type devCredentials struct{}

func (devCredentials) GetValidAccessToken(ctx context.Context, orgID, integrationID string) (string, error) {
	return "dev-token", nil
}

// loadSpec reads and parses a spec document, mapping a missing file to the
// dedicated exit code.
func loadSpec(path string) (*spec.ToolSystemSpec, error) {
	s, err := spec.LoadFromFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", path)
		}
		return nil, fmt.Errorf("loading spec: %w", err)
	}
	return s, nil
}
