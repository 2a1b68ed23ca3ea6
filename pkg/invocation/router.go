package invocation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/linktable"
	"github.com/latticehq/hostd/pkg/types"
	"github.com/latticehq/hostd/pkg/xkeys"
)

const headerSourceID = "source_id"
const headerTraceparent = "traceparent"
const headerInvocationID = "invocation_id"
const headerXKeySender = "xkey-sender"

// Target is anything that can execute an invocation once it reaches
// the right host: *runtime.Instance satisfies this structurally
// without pkg/invocation needing to import pkg/runtime.
type Target interface {
	Invoke(ctx context.Context, operation string, payload []byte) ([]byte, error)
}

// Router is the invocation router of spec.md §4.7. It holds no
// component state of its own beyond a registry of locally-hosted
// targets (for the same-host short circuit) and advertised xkey
// public keys (for optional end-to-end sealing).
type Router struct {
	b              bus.Bus
	lattice        string
	links          *linktable.Table
	defaultTimeout time.Duration

	mu    sync.RWMutex
	local map[string]Target
	xkeys map[string]string
}

// New creates a Router publishing RPC requests under the given
// lattice prefix. links is consulted by Dispatch to resolve which
// capability provider or component a guest's host call should reach.
func New(b bus.Bus, lattice string, links *linktable.Table, defaultTimeout time.Duration) *Router {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Router{
		b:              b,
		lattice:        lattice,
		links:          links,
		defaultTimeout: defaultTimeout,
		local:          make(map[string]Target),
		xkeys:          make(map[string]string),
	}
}

// RegisterLocal marks targetID as hosted on this host, so calls to it
// bypass the bus entirely.
func (r *Router) RegisterLocal(targetID string, target Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[targetID] = target
}

// UnregisterLocal removes a previously-registered local target, e.g.
// once its instance has fully drained.
func (r *Router) UnregisterLocal(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.local, targetID)
}

// RegisterXKey records id's advertised end-to-end encryption public
// key, so future calls to or from id are sealed (spec.md §4.7).
func (r *Router) RegisterXKey(id, publicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if publicKey == "" {
		delete(r.xkeys, id)
		return
	}
	r.xkeys[id] = publicKey
}

func (r *Router) localTarget(targetID string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.local[targetID]
	return t, ok
}

func (r *Router) xkeyFor(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.xkeys[id]
	return k, ok
}

// Subject returns the bus subject a call to (targetID, iface, function)
// is encoded on, per spec.md §6.1.
func (r *Router) Subject(targetID, iface, function string) string {
	return fmt.Sprintf("wasmbus.rpc.%s.%s.%s.%s", r.lattice, targetID, iface, function)
}

func operationName(iface, function string) string {
	if iface == "" {
		return function
	}
	return iface + "." + function
}

// Invoke sends a logical call from sourceID to (targetID, iface,
// function) with payload as arguments. A call to a locally-registered
// target short-circuits the bus; otherwise it becomes a bus request
// on Subject(targetID, iface, function). If ctx carries a trace
// context (see WithTraceContext) it is re-attached on the outgoing
// call's header. If both sourceID and targetID have advertised xkey
// public keys, payload is sealed before it crosses the bus.
func (r *Router) Invoke(ctx context.Context, sourceID, targetID, iface, function string, payload []byte) ([]byte, error) {
	operation := operationName(iface, function)

	if local, ok := r.localTarget(targetID); ok {
		return local.Invoke(ctx, operation, payload)
	}

	header := map[string]string{
		headerSourceID:     sourceID,
		headerInvocationID: uuid.NewString(),
	}
	if tp, ok := TraceContextFromContext(ctx); ok {
		header[headerTraceparent] = tp
	}

	outPayload := payload
	if targetPub, ok := r.xkeyFor(targetID); ok {
		if _, ok := r.xkeyFor(sourceID); ok {
			ephemeral, err := xkeys.Generate()
			if err != nil {
				return nil, errs.Wrap(errs.KindHostError, "generate ephemeral xkey", err)
			}
			sealed, err := ephemeral.Seal(payload, targetPub)
			if err != nil {
				return nil, errs.Wrap(errs.KindHostError, "seal invocation payload", err)
			}
			senderPub, err := ephemeral.PublicKey()
			if err != nil {
				return nil, errs.Wrap(errs.KindHostError, "read ephemeral xkey public", err)
			}
			outPayload = sealed
			header[headerXKeySender] = senderPub
		}
	}

	subject := r.Subject(targetID, iface, function)
	resp, err := r.requestWithHeader(ctx, subject, outPayload, header)
	if err != nil {
		return nil, classifyRoutingError(targetID, err)
	}
	return resp, nil
}

// requestWithHeader performs a bus request. The Bus interface carries
// headers only on delivered Msg values, not on outgoing Request calls,
// so header metadata that must reach the target out of band rides
// along as a small framed prefix the receiving side strips before
// handing the payload to its Instance — see DecodeEnvelope.
func (r *Router) requestWithHeader(ctx context.Context, subject string, payload []byte, header map[string]string) ([]byte, error) {
	envelope, err := EncodeEnvelope(header, payload)
	if err != nil {
		return nil, err
	}
	resp, err := r.b.Request(ctx, subject, envelope, r.defaultTimeout)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// classifyRoutingError turns the bus's generic "no subscriber"
// failure into the NotRouted kind spec.md §4.7 calls for, leaving
// Timeout and genuine transport failures as the bus reported them.
func classifyRoutingError(targetID string, err error) error {
	if errs.Is(err, errs.KindBusUnavailable) && strings.Contains(err.Error(), "no subscriber") {
		return errs.NotRouted("no subscriber bound to " + targetID)
	}
	return err
}

// Dispatch implements runtime.CapabilityDispatcher: a guest's host
// call names a WIT namespace (optionally "namespace:package") and an
// operation; Dispatch resolves sourceID's link table entry for that
// namespace/package and forwards the call to the bound target. No
// matching link fails with UnauthorizedOrUnbound, not a routing error —
// the guest asked for something it was never bound to (spec.md §4.3).
func (r *Router) Dispatch(ctx context.Context, sourceID, namespace, operation string, payload []byte) ([]byte, error) {
	ns, pkg := splitNamespace(namespace)

	link := r.resolveLink(sourceID, ns, pkg)
	if link == nil {
		return nil, errs.New(errs.KindUnauthorizedOrUnbound, fmt.Sprintf("%s has no link bound for %s", sourceID, namespace))
	}

	return r.Invoke(ctx, sourceID, link.TargetID, namespace, operation, payload)
}

func splitNamespace(namespace string) (ns, pkg string) {
	if i := strings.IndexByte(namespace, ':'); i >= 0 {
		return namespace[:i], namespace[i+1:]
	}
	return namespace, ""
}

// resolveLink picks the link bound on sourceID for (ns, pkg),
// preferring the link named "default" when more than one matches.
func (r *Router) resolveLink(sourceID, ns, pkg string) *types.Link {
	var fallback *types.Link
	for _, l := range r.links.LinksForSource(sourceID) {
		if l.Namespace != ns {
			continue
		}
		if pkg != "" && l.Package != pkg {
			continue
		}
		if l.Name == "default" || l.Name == "" {
			return l
		}
		if fallback == nil {
			fallback = l
		}
	}
	return fallback
}
