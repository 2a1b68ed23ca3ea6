package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/types"
)

// guest abstracts one callable unit of compiled WebAssembly — either a
// legacy core module (§6.2) or a component-model component (§6.3) —
// so Instance's state machine and concurrency limiting can be
// exercised in tests without a real wazero runtime.
type guest interface {
	invoke(ctx context.Context, operation string, payload []byte) ([]byte, error)
	close(ctx context.Context) error
}

// guestFactory builds a fresh guest for a single invocation. Both
// module kinds are instantiated per call: "Each call executes on a
// fresh store-scoped context; state does not leak across invocations"
// (spec.md §4.5).
type guestFactory func(ctx context.Context) (guest, error)

// Instance is one running component per spec.md §4.5: a state machine
// (Loaded → Ready ↔ Invoking → Draining → Gone) around a guestFactory,
// with a bounded number of concurrent in-flight invocations and a
// per-invocation execution deadline.
type Instance struct {
	ID               string
	Claims           *types.Claims
	MaxExecutionTime time.Duration

	factory guestFactory
	sem     chan struct{}

	mu       sync.RWMutex
	state    types.InstanceState
	inFlight int
}

// NewLegacyInstance builds an Instance around a core module linked
// against the legacy wasmbus ABI.
func NewLegacyInstance(id string, claims *types.Claims, rt *Runtime, moduleBytes []byte, dispatcher CapabilityDispatcher, maxConcurrent int, maxExecutionTime time.Duration, minPages, maxPages uint32) *Instance {
	checked := &capabilityCheckedDispatcher{claims: claims, next: dispatcher}
	return newInstance(id, claims, maxConcurrent, maxExecutionTime,
		newLegacyGuestFactory(rt, moduleBytes, checked, id, minPages, maxPages))
}

// NewComponentInstance builds an Instance around a component-model
// component using the curated set of lattice host interfaces (§6.3).
func NewComponentInstance(id string, claims *types.Claims, rt *Runtime, moduleBytes []byte, dispatcher CapabilityDispatcher, maxConcurrent int, maxExecutionTime time.Duration) *Instance {
	checked := &capabilityCheckedDispatcher{claims: claims, next: dispatcher}
	return newInstance(id, claims, maxConcurrent, maxExecutionTime,
		newComponentGuestFactory(rt, moduleBytes, checked, id))
}

// capabilityCheckedDispatcher enforces spec.md §4.5's capability-dispatch
// ordering: claims authorize the namespace before a link is even looked
// up. An unauthorized namespace never reaches the invocation router, so
// no bus RPC is issued for it.
type capabilityCheckedDispatcher struct {
	claims *types.Claims
	next   CapabilityDispatcher
}

func (d *capabilityCheckedDispatcher) Dispatch(ctx context.Context, sourceID, namespace, operation string, payload []byte) ([]byte, error) {
	if !claimsAuthorize(d.claims, namespace) {
		return nil, errs.CapabilityDenied(fmt.Sprintf("%s claims do not authorize namespace %s", sourceID, namespace))
	}
	return d.next.Dispatch(ctx, sourceID, namespace, operation, payload)
}

// claimsAuthorize reports whether claims lists the full "wit_namespace:
// wit_package" capability identifier (e.g. "wasi:keyvalue"), matching
// how spec.md §6.1's link table and claims declare capabilities.
func claimsAuthorize(claims *types.Claims, namespace string) bool {
	if claims == nil {
		return false
	}
	for _, c := range claims.Capabilities {
		if c == namespace {
			return true
		}
	}
	return false
}

func newInstance(id string, claims *types.Claims, maxConcurrent int, maxExecutionTime time.Duration, factory guestFactory) *Instance {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Instance{
		ID:               id,
		Claims:           claims,
		MaxExecutionTime: maxExecutionTime,
		factory:          factory,
		sem:              make(chan struct{}, maxConcurrent),
		state:            types.InstanceLoaded,
	}
}

// Ready transitions a freshly Loaded instance so it can accept
// invocations. It is a no-op once past Loaded.
func (in *Instance) Ready() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state == types.InstanceLoaded {
		in.state = types.InstanceReady
	}
}

func (in *Instance) State() types.InstanceState {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state
}

func (in *Instance) InFlight() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.inFlight
}

// Invoke runs one operation against a fresh guest instantiation,
// enforcing max_concurrent and max_execution_time per spec.md §4.5.
func (in *Instance) Invoke(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	in.mu.Lock()
	if in.state == types.InstanceDraining || in.state == types.InstanceGone {
		state := in.state
		in.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("instance %s is %s, not accepting invocations", in.ID, state))
	}
	in.mu.Unlock()

	select {
	case in.sem <- struct{}{}:
	default:
		return nil, errs.Overloaded(fmt.Sprintf("instance %s at max_concurrent", in.ID))
	}
	defer func() { <-in.sem }()

	in.mu.Lock()
	in.inFlight++
	in.state = types.InstanceInvoking
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		in.inFlight--
		if in.inFlight == 0 && in.state == types.InstanceInvoking {
			in.state = types.InstanceReady
		}
		in.mu.Unlock()
	}()

	callCtx := ctx
	if in.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, in.MaxExecutionTime)
		defer cancel()
	}

	g, err := in.factory(callCtx)
	if err != nil {
		return nil, errs.Wrap(errs.KindHostError, "instantiate guest", err)
	}
	defer g.close(callCtx)

	result, err := g.invoke(callCtx, operation, payload)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.KindTimeout, "invocation exceeded max_execution_time", err)
		}
		return nil, err
	}
	return result, nil
}

// Drain transitions the instance to Draining, refusing new
// invocations, waits up to grace for in-flight calls to finish, then
// forces the transition to Gone regardless (spec.md §4.5, "Transition
// to Draining").
func (in *Instance) Drain(grace time.Duration) {
	in.mu.Lock()
	in.state = types.InstanceDraining
	in.mu.Unlock()

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		in.mu.RLock()
		inFlight := in.inFlight
		in.mu.RUnlock()
		if inFlight == 0 {
			break
		}
		select {
		case <-deadline.C:
			goto forced
		case <-ticker.C:
		}
	}

forced:
	in.mu.Lock()
	in.state = types.InstanceGone
	in.mu.Unlock()
}
