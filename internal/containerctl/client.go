package containerctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/rs/zerolog"
)

// Client drives the container runtime CLI.
type Client struct {
	runner execx.Runner
	binary string
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewClient creates a Client for the given runtime binary ("docker",
// "podman", ...).
func NewClient(runner execx.Runner, binary string, logger zerolog.Logger) *Client {
	if binary == "" {
		binary = "docker"
	}
	return &Client{
		runner: runner,
		binary: binary,
		logger: logger.With().Str("component", "containerctl").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing operations on one container.
func (c *Client) lockFor(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks[id] = l
	return l
}

// Build builds an image from a context directory.
func (c *Client) Build(ctx context.Context, image, contextDir string) error {
	c.logger.Info().Str("image", image).Str("context", contextDir).Msg("building image")
	_, err := c.run(ctx, []string{"build", "-t", image, contextDir}, 0)
	if err != nil {
		return fmt.Errorf("build image %s: %w", image, err)
	}
	return nil
}

// Pull pulls an image from its registry.
func (c *Client) Pull(ctx context.Context, image string) error {
	c.logger.Info().Str("image", image).Msg("pulling image")
	if _, err := c.run(ctx, []string{"pull", image}, 0); err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	return nil
}

// Run creates and starts a container from the spec, returning the container
// id. Name collisions fail with ErrNameInUse unless spec.Replace is set, in
// which case the existing container is removed first.
func (c *Client) Run(ctx context.Context, spec RunSpec) (string, error) {
	lock := c.lockFor(spec.Name)
	lock.Lock()
	defer lock.Unlock()

	if spec.Name != "" {
		existing, err := c.inspect(ctx, spec.Name)
		switch {
		case err == nil:
			if !spec.Replace {
				return "", fmt.Errorf("%w: %s", ErrNameInUse, spec.Name)
			}
			c.logger.Info().Str("name", spec.Name).Msg("replacing existing container")
			if rerr := c.remove(ctx, existing.ID); rerr != nil {
				return "", fmt.Errorf("replace container %s: %w", spec.Name, rerr)
			}
		case errors.Is(err, ErrNotFound):
			// Name is free.
		default:
			return "", err
		}
	}

	args := c.runArgs(spec)
	out, err := c.run(ctx, args, 0)
	if err != nil {
		return "", fmt.Errorf("run container %s: %w", spec.Name, err)
	}
	id := strings.TrimSpace(string(out))
	c.logger.Info().Str("name", spec.Name).Str("container_id", id).Msg("container started")
	return id, nil
}

// runArgs assembles the argv for `docker run` with deterministic flag order.
func (c *Client) runArgs(spec RunSpec) []string {
	args := []string{"run", "-d"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	policy := spec.RestartPolicy
	if policy == "" {
		policy = RestartUnlessStopped
	}
	args = append(args, "--restart", string(policy))

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	for _, p := range spec.Ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", p.Host, p.Container))
	}
	for _, v := range spec.Volumes {
		args = append(args, "-v", v.HostPath+":"+v.ContainerPath)
	}
	if spec.NetworkMode != "" {
		args = append(args, "--network", spec.NetworkMode)
	}
	return append(args, spec.Image)
}

// Stop stops a container. Stopping a non-running or missing container is a
// no-op.
func (c *Client) Stop(ctx context.Context, id string) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	c.logger.Info().Str("container_id", id).Msg("stopping container")
	_, err := c.run(ctx, []string{"stop", id}, 0)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

// Restart restarts a container.
func (c *Client) Restart(ctx context.Context, id string) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	c.logger.Info().Str("container_id", id).Msg("restarting container")
	if _, err := c.run(ctx, []string{"restart", id}, 0); err != nil {
		return fmt.Errorf("restart container %s: %w", id, err)
	}
	return nil
}

// Remove force-removes a container.
func (c *Client) Remove(ctx context.Context, id string) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return c.remove(ctx, id)
}

func (c *Client) remove(ctx context.Context, id string) error {
	c.logger.Info().Str("container_id", id).Msg("removing container")
	_, err := c.run(ctx, []string{"rm", "-f", id}, 0)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

// Inspect returns detailed information about a container.
func (c *Client) Inspect(ctx context.Context, id string) (*ContainerInfo, error) {
	return c.inspect(ctx, id)
}

// StatusOf returns the container's lifecycle state. Missing containers
// report StatusMissing rather than an error.
func (c *Client) StatusOf(ctx context.Context, id string) (Status, error) {
	info, err := c.inspect(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusMissing, nil
		}
		return "", err
	}
	return info.Status, nil
}

// List returns containers, including stopped ones when all is set.
func (c *Client) List(ctx context.Context, all bool) ([]ContainerInfo, error) {
	args := []string{"ps", "--no-trunc", "--format", "{{json .}}"}
	if all {
		args = append(args, "-a")
	}
	out, err := c.run(ctx, args, 0)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var infos []ContainerInfo
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ps psLine
		if err := json.Unmarshal([]byte(line), &ps); err != nil {
			c.logger.Warn().Err(err).Msg("failed to parse container line")
			continue
		}
		infos = append(infos, ContainerInfo{
			ID:     ps.ID,
			Name:   strings.TrimPrefix(ps.Names, "/"),
			Image:  ps.Image,
			Status: Status(ps.State),
			Labels: parseLabels(ps.Labels),
		})
	}
	return infos, nil
}

// LogOptions controls log retrieval.
type LogOptions struct {
	Tail   int
	Follow bool
}

// Logs streams the container's log lines to fn until the logs end, the
// follow stream is cancelled, or an error occurs.
func (c *Client) Logs(ctx context.Context, id string, opts LogOptions, fn func(execx.Line)) error {
	args := []string{"logs"}
	if opts.Tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", opts.Tail))
	}
	if opts.Follow {
		args = append(args, "-f")
	}
	args = append(args, id)

	cmd := execx.Command{Path: c.binary, Args: args}
	if opts.Follow {
		// Follow streams run until cancelled, not until a step timeout.
		cmd.Timeout = 365 * 24 * time.Hour
	}
	res, err := c.runner.Stream(ctx, cmd, fn)
	if err != nil {
		return c.classify(res, err, fmt.Sprintf("logs for %s", id))
	}
	return nil
}

// ImageDigest returns the repo digest of a local image.
func (c *Client) ImageDigest(ctx context.Context, image string) (string, error) {
	out, err := c.run(ctx, []string{"image", "inspect", "--format", "{{index .RepoDigests 0}}", image}, 0)
	if err != nil {
		return "", fmt.Errorf("inspect image %s: %w", image, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) inspect(ctx context.Context, id string) (*ContainerInfo, error) {
	out, err := c.run(ctx, []string{"inspect", "--format", "{{json .}}", id}, 0)
	if err != nil {
		return nil, err
	}

	var raw inspectOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		// Some runtimes emit a single-element array despite the format flag.
		var arr []inspectOutput
		if aerr := json.Unmarshal(out, &arr); aerr != nil || len(arr) == 0 {
			return nil, fmt.Errorf("parse inspect output: %w", err)
		}
		raw = arr[0]
	}

	info := &ContainerInfo{
		ID:       raw.ID,
		Name:     strings.TrimPrefix(raw.Name, "/"),
		Image:    raw.Config.Image,
		Status:   Status(raw.State.Status),
		ExitCode: raw.State.ExitCode,
		Labels:   raw.Config.Labels,
	}
	if t, err := time.Parse(time.RFC3339Nano, raw.Created); err == nil {
		info.Created = t
	}
	if raw.State.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw.State.StartedAt); err == nil && !t.IsZero() {
			info.StartedAt = &t
		}
	}
	if raw.State.FinishedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw.State.FinishedAt); err == nil && !t.IsZero() {
			info.FinishedAt = &t
		}
	}
	if len(raw.Image) > 0 {
		info.Digest = raw.Image
	}
	return info, nil
}

// run executes a runtime command and classifies failures.
func (c *Client) run(ctx context.Context, args []string, timeout time.Duration) ([]byte, error) {
	res, err := c.runner.Run(ctx, execx.Command{
		Path:    c.binary,
		Args:    args,
		Timeout: timeout,
	})
	if err != nil {
		return nil, c.classify(res, err, args[0])
	}
	return res.Stdout, nil
}

// classify maps CLI failures onto the package's error model.
func (c *Client) classify(res execx.Result, err error, op string) error {
	if errors.Is(err, execx.ErrToolNotFound) {
		return fmt.Errorf("%w: %s not installed", ErrRuntimeUnavailable, c.binary)
	}
	switch faults.KindOf(err) {
	case faults.Cancelled, faults.Timeout:
		return err
	}
	stderr := strings.TrimSpace(string(res.Stderr))
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "cannot connect"),
		strings.Contains(lower, "daemon") && strings.Contains(lower, "running"):
		return fmt.Errorf("%w: %s", ErrRuntimeUnavailable, stderr)
	case strings.Contains(lower, "no such container") || strings.Contains(lower, "no such object") || strings.Contains(lower, "no such image"):
		return fmt.Errorf("%w: %s", ErrNotFound, stderr)
	case strings.Contains(lower, "already in use"):
		return fmt.Errorf("%w: %s", ErrNameInUse, stderr)
	}
	return fmt.Errorf("%s: %w", op, &RuntimeError{ExitCode: res.ExitCode, Stderr: stderr})
}

type psLine struct {
	ID     string `json:"ID"`
	Names  string `json:"Names"`
	Image  string `json:"Image"`
	State  string `json:"State"`
	Labels string `json:"Labels"`
}

type inspectOutput struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Created string `json:"Created"`
	Image   string `json:"Image"`
	State   struct {
		Status     string `json:"Status"`
		ExitCode   int    `json:"ExitCode"`
		StartedAt  string `json:"StartedAt"`
		FinishedAt string `json:"FinishedAt"`
	} `json:"State"`
	Config struct {
		Image  string            `json:"Image"`
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
}

// parseLabels parses a label string (key=val,key2=val2) into a map.
func parseLabels(labels string) map[string]string {
	if labels == "" {
		return nil
	}
	result := make(map[string]string)
	for _, pair := range strings.Split(labels, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			result[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return result
}
