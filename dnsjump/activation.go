package dnsjump

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/dnsjump/dnsjump/profile"
	"github.com/dnsjump/dnsjump/sysdns"
)

var (
	// ErrActivationInProgress rejects a second activation or reset while
	// one is still running. Requests are refused, never queued.
	ErrActivationInProgress = errors.New("an activation is already in progress")

	// ErrApplyFailed wraps a provider failure while writing the new DNS
	// configuration. The system may be left partially configured.
	ErrApplyFailed = errors.New("applying DNS configuration failed")

	// ErrVerificationFailed means the apply commands succeeded but the
	// re-read configuration did not show the servers. Distinct from
	// ErrApplyFailed so the user knows to inspect rather than retry.
	ErrVerificationFailed = errors.New("DNS configuration could not be verified")
)

// ActivationState is the controller's position in one activation attempt.
type ActivationState int32

const (
	StateIdle ActivationState = iota
	StateValidating
	StateResolving
	StateApplying
	StateVerifying
	StateDone
	StateFailed
)

func (s ActivationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateResolving:
		return "resolving"
	case StateApplying:
		return "applying"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Controller serializes DNS activation attempts against the provider.
// One attempt walks Validating → Resolving → Applying → Verifying; any
// failure is terminal for that attempt and retry is a fresh call.
type Controller struct {
	provider sysdns.Provider
	busy     atomic.Bool
	state    atomic.Int32
}

// NewController returns a controller driving the given provider.
func NewController(provider sysdns.Provider) *Controller {
	return &Controller{provider: provider}
}

// State reports the current machine state for display.
func (c *Controller) State() ActivationState {
	return ActivationState(c.state.Load())
}

func (c *Controller) setState(s ActivationState) {
	c.state.Store(int32(s))
	log.Debugf("activation: %s", s)
}

// Activate makes servers the system's active DNS configuration. Errors
// before Applying (invalid addresses, too few servers, no active
// connection, already in progress) are reported before any side effect;
// ErrApplyFailed and ErrVerificationFailed can leave the system in a
// partially applied state, which the caller must surface distinctly.
func (c *Controller) Activate(ctx context.Context, servers []string) (*sysdns.Connection, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrActivationInProgress
	}
	defer c.busy.Store(false)

	c.setState(StateValidating)
	sanitized, err := profile.SanitizeServers(servers)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}

	c.setState(StateResolving)
	conn, err := c.provider.ActiveConnection(ctx)
	if err != nil {
		c.setState(StateFailed)
		if errors.Is(err, sysdns.ErrNoActiveConnection) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", sysdns.ErrNoActiveConnection, err)
	}

	c.setState(StateApplying)
	ipv4, ipv6 := profile.SplitFamilies(sanitized)
	if err := c.provider.ApplyServers(ctx, conn, ipv4, ipv6); err != nil {
		c.setState(StateFailed)
		return conn, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}

	c.setState(StateVerifying)
	ok, err := c.provider.VerifyServers(ctx, conn)
	if err != nil {
		c.setState(StateFailed)
		return conn, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if !ok {
		c.setState(StateFailed)
		return conn, ErrVerificationFailed
	}

	c.setState(StateDone)
	log.Infof("activation: %d servers active on %q", len(sanitized), conn.Name)
	return conn, nil
}

// Reset clears the static DNS override on the active connection. It
// shares the in-flight guard with Activate.
func (c *Controller) Reset(ctx context.Context) (*sysdns.Connection, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrActivationInProgress
	}
	defer c.busy.Store(false)

	c.setState(StateResolving)
	conn, err := c.provider.ActiveConnection(ctx)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}

	c.setState(StateApplying)
	if err := c.provider.ResetToAutomatic(ctx, conn); err != nil {
		c.setState(StateFailed)
		return conn, fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}

	c.setState(StateDone)
	log.Infof("activation: %q reset to automatic DNS", conn.Name)
	return conn, nil
}
