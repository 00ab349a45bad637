package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/runner"
)

// DefaultKeepImages is how many release-tagged images survive pruning
const DefaultKeepImages = 3

// Docker builds one image per release, tagged with the release ID
type Docker struct {
	runner     runner.Runner
	KeepImages int
}

// Type implements Runtime
func (d *Docker) Type() config.AppType { return config.TypeDocker }

// Image returns the image reference for a release
func Image(app, releaseID string) string {
	return app + ":" + releaseID
}

// InstallDependencies builds the release image, tags it latest and prunes
// older release images
func (d *Docker) InstallDependencies(ctx context.Context, t Target) error {
	if !fileExists(t.Dir, "Dockerfile") {
		return fmt.Errorf("no Dockerfile in release directory")
	}

	image := Image(t.App, t.ReleaseID)
	if err := run(ctx, d.runner, t, "docker", "build", "-t", image, t.Dir); err != nil {
		return fmt.Errorf("docker build failed: %w", err)
	}

	if err := run(ctx, d.runner, t, "docker", "tag", image, t.App+":latest"); err != nil {
		return fmt.Errorf("docker tag failed: %w", err)
	}

	// Pruning is best effort
	_ = d.pruneImages(ctx, t)
	return nil
}

func (d *Docker) pruneImages(ctx context.Context, t Target) error {
	res, err := d.runner.Run(ctx, runner.Command{
		Name:    "docker",
		Args:    []string{"images", t.App, "--format", "{{.Tag}}"},
		Timeout: t.Timeout,
	})
	if err != nil {
		return err
	}

	var tags []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		tag := strings.TrimSpace(line)
		if tag != "" && tag != "latest" && tag != "<none>" {
			tags = append(tags, tag)
		}
	}
	// Release IDs are timestamps of equal width, newest first
	sort.Sort(sort.Reverse(sort.StringSlice(tags)))

	keep := d.KeepImages
	if keep <= 0 {
		keep = DefaultKeepImages
	}
	if len(tags) <= keep {
		return nil
	}

	for _, old := range tags[keep:] {
		_, _ = d.runner.Run(ctx, runner.Command{
			Name:    "docker",
			Args:    []string{"rmi", Image(t.App, old)},
			Timeout: t.Timeout,
		})
	}
	return nil
}

// StartCommand runs the release image in the foreground so the process
// manager supervises the container
func (d *Docker) StartCommand(plan *config.DeploymentPlan, t Target) string {
	if plan.Command != "" {
		return plan.Command
	}

	args := []string{
		"docker", "run", "--rm",
		"--name", plan.Name + "-$PORT",
		"-p", "$PORT:$PORT",
		"-e", "PORT=$PORT",
	}
	if fileExists(t.Dir, ".env") {
		args = append(args, "--env-file", filepath.Join(t.Dir, ".env"))
	}
	args = append(args, Image(plan.Name, t.ReleaseID))
	return strings.Join(args, " ")
}
