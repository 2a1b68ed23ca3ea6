package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/latticehq/hostd/pkg/errs"
)

// CapabilityDispatcher forwards a capability call made by a guest to
// the invocation router, which resolves the calling component's link
// table entry and performs the bus call (spec.md §4.5, "Capability
// dispatch").
type CapabilityDispatcher interface {
	Dispatch(ctx context.Context, sourceID, namespace, operation string, payload []byte) ([]byte, error)
}

// Runtime is the host-wide WebAssembly compilation cache. Every
// invocation gets its own wazero.Runtime namespace (so concurrent
// invocations never collide registering the same-named host import
// modules), but all of them share this compilation cache so
// recompiling the same module bytes — e.g. after a redeploy to an
// already-seen image reference — is cheap.
type Runtime struct {
	cache wazero.CompilationCache
	cfg   wazero.RuntimeConfig
}

// New creates a Runtime with an empty shared compilation cache.
func New() *Runtime {
	cache := wazero.NewCompilationCache()
	return &Runtime{
		cache: cache,
		cfg:   wazero.NewRuntimeConfig().WithCompilationCache(cache),
	}
}

// Close releases the shared compilation cache. Call once at host
// shutdown, after every Instance has been drained.
func (r *Runtime) Close(ctx context.Context) error {
	return r.cache.Close(ctx)
}

// newEnv creates a fresh, isolated wazero runtime with WASI preview 1
// instantiated, backed by the shared compilation cache.
func (r *Runtime) newEnv(ctx context.Context) (wazero.Runtime, error) {
	env := wazero.NewRuntimeWithConfig(ctx, r.cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, env); err != nil {
		env.Close(ctx)
		return nil, errs.Wrap(errs.KindHostError, "instantiate WASI preview1", err)
	}
	return env, nil
}

// Validate compiles moduleBytes against a throwaway env so a malformed
// module is rejected at deploy time (component.scale / provider.start)
// rather than on first invocation. A wazero.CompiledModule is not tied
// to the env that produced it in a way that lets it be reused across
// other envs, so every invocation recompiles — cheaply, since it hits
// this same Runtime's shared compilation cache.
func (r *Runtime) Validate(ctx context.Context, moduleBytes []byte) error {
	env, err := r.newEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close(ctx)

	compiled, err := env.CompileModule(ctx, moduleBytes)
	if err != nil {
		return errs.Wrap(errs.KindGuestError, "compile module", err)
	}
	defer compiled.Close(ctx)
	return nil
}
