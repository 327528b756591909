package mcphost

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// hostLabel tags every container this supervisor spawns for docker-isolated
// servers, so a restart can find and stop its own orphans without touching
// unrelated containers on the host.
const hostLabel = "harbor.supervisor"

// containerRuntime abstracts the subset of `docker` commands reconciliation
// needs, so tests can substitute a fake without a real daemon.
type containerRuntime interface {
	listLabeled(ctx context.Context, label string) ([]orphanContainer, error)
	stop(ctx context.Context, containerID string) error
}

type orphanContainer struct {
	ID    string
	Image string
}

// dockerCLIRuntime shells out to the docker CLI. It is the only
// containerRuntime implementation; the supervisor otherwise never manages
// container lifecycle beyond stop-and-recreate.
type dockerCLIRuntime struct{}

func (dockerCLIRuntime) listLabeled(ctx context.Context, label string) ([]orphanContainer, error) {
	cmd := exec.CommandContext(ctx, "docker", "ps", "-a",
		"--filter", "label="+label,
		"--format", "{{.ID}}\t{{.Image}}")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("mcphost: docker ps: %w", err)
	}

	var containers []orphanContainer
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "\t", 2)
		if len(parts) != 2 {
			continue
		}
		containers = append(containers, orphanContainer{ID: parts[0], Image: parts[1]})
	}
	return containers, nil
}

func (dockerCLIRuntime) stop(ctx context.Context, containerID string) error {
	if err := exec.CommandContext(ctx, "docker", "stop", containerID).Run(); err != nil {
		return fmt.Errorf("mcphost: docker stop %s: %w", containerID, err)
	}
	if err := exec.CommandContext(ctx, "docker", "rm", containerID).Run(); err != nil {
		return fmt.Errorf("mcphost: docker rm %s: %w", containerID, err)
	}
	return nil
}

// ReconcileOrphans queries the container runtime for containers labeled as
// belonging to this host, stops and removes each one, and never attempts to
// re-attach to a dangling stdio pipe — any server that needs one of these
// images reconnects fresh through the normal RegisterServer path.
func (h *Supervisor) ReconcileOrphans(ctx context.Context) error {
	containers, err := h.runtime.listLabeled(ctx, hostLabel+"="+h.hostID)
	if err != nil {
		h.logger.Warn("mcphost: orphan reconciliation skipped, container runtime unavailable", "error", err)
		return nil
	}

	for _, c := range containers {
		ref, err := name.ParseReference(c.Image)
		if err != nil {
			h.logger.Warn("mcphost: orphan container has unparseable image reference", "container", c.ID, "image", c.Image, "error", err)
		} else {
			h.logger.Info("mcphost: stopping orphaned container", "container", c.ID, "image", ref.Name())
		}
		if err := h.runtime.stop(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}
