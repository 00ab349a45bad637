package runtime

import (
	"context"

	"github.com/redentordev/paradigm/pkg/config"
)

// Static serves the release directory as-is
type Static struct{}

// Type implements Runtime
func (s *Static) Type() config.AppType { return config.TypeStatic }

// InstallDependencies is a no-op
func (s *Static) InstallDependencies(ctx context.Context, t Target) error {
	return nil
}

// StartCommand implements Runtime
func (s *Static) StartCommand(plan *config.DeploymentPlan, t Target) string {
	if plan.Command != "" {
		return plan.Command
	}
	return "python3 -m http.server $PORT --bind 127.0.0.1"
}
