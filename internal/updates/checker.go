// Package updates probes upstream sources for newer versions and drives
// in-place upgrades with rollback.
package updates

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/planner"
	"github.com/rs/zerolog"
)

// probeTTL is how long a probe result authorizes an upgrade.
const probeTTL = 5 * time.Minute

// Info is the result of a single probe.
type Info struct {
	ServerID        string `json:"server_id"`
	UpdateAvailable bool   `json:"update_available"`
	CurrentVersion  string `json:"current_version,omitempty"`
	LatestVersion   string `json:"latest_version,omitempty"`

	// Revision is the remote HEAD commit for repository-backed servers.
	Revision    string    `json:"revision,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	CommittedAt time.Time `json:"committed_at,omitempty"`

	// Digest is the remote image digest for container-image servers.
	Digest string `json:"digest,omitempty"`

	Probed time.Time `json:"probed"`
}

// Checker probes remotes and remembers results per server.
type Checker struct {
	runner     execx.Runner
	containers *containerctl.Client
	gitBinary  string
	bus        *events.Bus
	logger     zerolog.Logger

	mu     sync.Mutex
	probes map[string]Info

	now func() time.Time
}

// NewChecker creates a Checker. containers may be nil when no container
// runtime is configured; image probes then fail with a precondition error.
func NewChecker(runner execx.Runner, containers *containerctl.Client, gitBinary string, bus *events.Bus, logger zerolog.Logger) *Checker {
	return &Checker{
		runner:     runner,
		containers: containers,
		gitBinary:  gitBinary,
		bus:        bus,
		logger:     logger.With().Str("component", "updates").Logger(),
		probes:     make(map[string]Info),
		now:        time.Now,
	}
}

// Probe determines whether the server has a newer upstream version. The
// result is cached and authorizes an Upgrade for the next five minutes.
func (c *Checker) Probe(ctx context.Context, server *models.ServerRecord) (*Info, error) {
	var (
		info *Info
		err  error
	)
	switch {
	case server.Image != "":
		info, err = c.probeImage(ctx, server)
	case server.RepoURL != "":
		info, err = c.probeRepo(ctx, server)
	default:
		return nil, faults.New(faults.PreconditionFailed, "updates",
			fmt.Sprintf("server %s has no upstream provenance", server.ID))
	}
	if err != nil {
		return nil, err
	}

	info.ServerID = server.ID
	info.Probed = c.now()

	c.mu.Lock()
	c.probes[server.ID] = *info
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(events.Event{
			Kind:            events.KindUpdateStatus,
			ServerID:        server.ID,
			UpdateAvailable: info.UpdateAvailable,
			LatestVersion:   info.LatestVersion,
		})
	}
	c.logger.Info().
		Str("server_id", server.ID).
		Bool("update_available", info.UpdateAvailable).
		Str("latest_version", info.LatestVersion).
		Msg("probe completed")
	return info, nil
}

// recentProbe returns the cached probe if it is fresh enough to authorize an
// upgrade.
func (c *Checker) recentProbe(serverID string) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.probes[serverID]
	if !ok || c.now().Sub(info.Probed) > probeTTL {
		return Info{}, false
	}
	return info, true
}

// probeRepo shallow-fetches the GitHub remote into a scratch directory and
// inspects HEAD plus the most recent reachable tag.
func (c *Checker) probeRepo(ctx context.Context, server *models.ServerRecord) (*Info, error) {
	if _, _, err := planner.SplitOwnerRepo(server.RepoURL); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "mcpilot-probe-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if rerr := os.RemoveAll(scratch); rerr != nil {
			c.logger.Warn().Err(rerr).Str("dir", scratch).Msg("failed to remove probe scratch")
		}
	}()

	if _, err := c.git(ctx, "", "clone", "--depth", "1", server.RepoURL, scratch); err != nil {
		return nil, faults.Wrap(faults.Unreachable, "updates",
			fmt.Errorf("fetch %s: %w", server.RepoURL, err))
	}
	// A depth-1 clone carries no tags; a second shallow fetch brings them in.
	if _, err := c.git(ctx, scratch, "fetch", "--tags", "--depth", "1"); err != nil {
		c.logger.Debug().Err(err).Msg("tag fetch failed, proceeding untagged")
	}

	head, err := c.git(ctx, scratch, "log", "-1", "--format=%H%n%s%n%cI")
	if err != nil {
		return nil, faults.Wrap(faults.Unreachable, "updates",
			fmt.Errorf("read HEAD: %w", err))
	}
	hash, subject, date := splitHead(head)

	latest := "latest"
	if tag, err := c.git(ctx, scratch, "describe", "--tags", "--abbrev=0"); err == nil && tag != "" {
		latest = tag
	}

	info := &Info{
		CurrentVersion: server.Version,
		LatestVersion:  latest,
		Revision:       hash,
		Subject:        subject,
	}
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		info.CommittedAt = t
	}
	// Any drift from the recorded revision counts as an update, and so does
	// a tag the recorded version has not caught up to.
	info.UpdateAvailable = hash != server.Revision ||
		(latest != "latest" && latest != server.Version)
	return info, nil
}

// probeImage resolves the image tag's current digest and compares it to the
// one recorded at install time.
func (c *Checker) probeImage(ctx context.Context, server *models.ServerRecord) (*Info, error) {
	if c.containers == nil {
		return nil, faults.New(faults.PreconditionFailed, "updates", "no container runtime configured")
	}
	if err := c.containers.Pull(ctx, server.Image); err != nil {
		return nil, faults.Wrap(faults.Unreachable, "updates", err)
	}
	digest, err := c.containers.ImageDigest(ctx, server.Image)
	if err != nil {
		return nil, err
	}
	return &Info{
		CurrentVersion:  server.Version,
		LatestVersion:   imageTag(server.Image),
		Digest:          digest,
		UpdateAvailable: digest != server.Digest,
	}, nil
}

func (c *Checker) git(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := c.runner.Run(ctx, execx.Command{
		Path: c.gitBinary,
		Args: args,
		Dir:  dir,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

func splitHead(out string) (hash, subject, date string) {
	parts := strings.SplitN(out, "\n", 3)
	if len(parts) > 0 {
		hash = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		subject = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		date = strings.TrimSpace(parts[2])
	}
	return hash, subject, date
}

// imageTag reports the tag portion of an image reference, defaulting to
// latest.
func imageTag(image string) string {
	if i := strings.LastIndex(image, ":"); i > strings.LastIndex(image, "/") {
		return image[i+1:]
	}
	return "latest"
}
