package health

import (
	"context"
	"time"

	"github.com/latticehq/hostd/pkg/bus"
)

// BusChecker polls a provider's health subject
// (wasmbus.rpc.<lattice>.<provider_id>.<link_name>.health, spec.md
// §6.1) and treats any reply as healthy, a bus error as unhealthy.
// Providers are native OS processes reached only over the bus, so
// this is the one Checker implementation the provider bridge needs.
type BusChecker struct {
	b       bus.Bus
	subject string
	timeout time.Duration
}

// NewBusChecker creates a BusChecker against subject.
func NewBusChecker(b bus.Bus, subject string, timeout time.Duration) *BusChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BusChecker{b: b, subject: subject, timeout: timeout}
}

// Check sends an empty health request and waits for any reply.
func (c *BusChecker) Check(ctx context.Context) Result {
	start := time.Now()
	_, err := c.b.Request(ctx, c.subject, nil, c.timeout)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   "ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (c *BusChecker) Type() CheckType {
	return CheckTypeBus
}
