package containerctl

import (
	"context"
	"fmt"
	"time"

	"github.com/mcpilot/mcpilot/internal/faults"
)

const (
	pollInitial = 100 * time.Millisecond
	pollFactor  = 2
	pollCap     = 2 * time.Second
)

// DefaultAwaitTimeout is the standard window callers give a container to
// reach a wanted status.
const DefaultAwaitTimeout = 30 * time.Second

// AwaitStatus polls until the container reaches the wanted status, backing
// off exponentially from 100ms up to 2s between probes. The caller supplies
// the overall deadline through ctx or the timeout argument.
func (c *Client) AwaitStatus(ctx context.Context, id string, want Status, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	delay := pollInitial
	for {
		status, err := c.StatusOf(ctx, id)
		if err != nil {
			return err
		}
		if status == want {
			return nil
		}
		// A container that already exited will never reach running again on
		// its own; fail fast instead of burning the whole window.
		if want == StatusRunning && status == StatusExited {
			return faults.New(faults.Fatal, "containerctl",
				fmt.Sprintf("container %s exited while waiting for running", id))
		}

		select {
		case <-ctx.Done():
			return faults.Wrap(faults.Timeout, "containerctl",
				fmt.Errorf("container %s did not reach %s: %w", id, want, ctx.Err()))
		case <-time.After(delay):
		}
		delay *= pollFactor
		if delay > pollCap {
			delay = pollCap
		}
	}
}
