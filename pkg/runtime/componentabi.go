package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/latticehq/hostd/pkg/errs"
)

// componentGuest runs one invocation of a component-model component.
// The canonical ABI's full lifting/lowering of rich WIT types is
// elided: every lattice-defined import here accepts and returns a
// single opaque byte buffer, matching how invocation payloads are
// already opaque bytes everywhere else (the bus subjects, the legacy
// ABI, the control protocol acks). A real wit-bindgen-generated
// component embeds its own lifting code on the guest side of that
// boundary; the host side only ever needs to move bytes.
type componentGuest struct {
	env wazero.Runtime
	mod api.Module
}

// newComponentGuestFactory builds a guestFactory for a component-model
// component, wiring the WASI preview already instantiated by newEnv
// plus the curated lattice host interfaces from spec.md §6.3.
func newComponentGuestFactory(rt *Runtime, moduleBytes []byte, dispatcher CapabilityDispatcher, sourceID string) guestFactory {
	return func(ctx context.Context) (guest, error) {
		env, err := rt.newEnv(ctx)
		if err != nil {
			return nil, err
		}

		dispatchImport := func(namespace string) func(ctx context.Context, mod api.Module, opPtr, opLen, pldPtr, pldLen, outPtr, outCap uint32) uint32 {
			return func(ctx context.Context, mod api.Module, opPtr, opLen, pldPtr, pldLen, outPtr, outCap uint32) uint32 {
				operation, _ := mod.Memory().Read(opPtr, opLen)
				payload, _ := mod.Memory().Read(pldPtr, pldLen)
				resp, err := dispatcher.Dispatch(ctx, sourceID, namespace, string(operation), payload)
				if err != nil || uint32(len(resp)) > outCap {
					return 0
				}
				mod.Memory().Write(outPtr, resp)
				return uint32(len(resp))
			}
		}

		builder := env.NewHostModuleBuilder("wasmcloud:bus/lattice")
		for _, iface := range []string{
			"wasi:logging/logging",
			"wasmcloud:keyvalue/store",
			"wasmcloud:keyvalue/atomics",
			"wasmcloud:messaging/consumer",
			"wasi:http/outgoing-handler",
			"wasmcloud:blobstore/blobstore",
		} {
			builder = builder.NewFunctionBuilder().WithFunc(dispatchImport(iface)).Export(iface)
		}
		hostMod, err := builder.Instantiate(ctx)
		if err != nil {
			env.Close(ctx)
			return nil, errs.Wrap(errs.KindHostError, "register component host interfaces", err)
		}

		mod, err := env.InstantiateWithConfig(ctx, moduleBytes, wazero.NewModuleConfig())
		if err != nil {
			hostMod.Close(ctx)
			env.Close(ctx)
			return nil, errs.Wrap(errs.KindHostError, "instantiate component module", err)
		}

		return &componentGuest{env: env, mod: mod}, nil
	}
}

func (g *componentGuest) invoke(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	fn := g.mod.ExportedFunction(operation)
	if fn == nil {
		return nil, errs.New(errs.KindGuestError, "component does not export "+operation)
	}

	mem := g.mod.Memory()
	inPtr := mem.Size()
	const wasmPageSize = 65536
	pagesNeeded := (uint32(len(payload)) + wasmPageSize - 1) / wasmPageSize
	if pagesNeeded > 0 {
		if _, ok := mem.Grow(pagesNeeded); !ok {
			return nil, errs.New(errs.KindHostError, "guest memory cannot grow to accept invocation payload")
		}
	}
	if !mem.Write(inPtr, payload) {
		return nil, errs.New(errs.KindHostError, "write invocation payload into guest memory")
	}

	results, err := fn.Call(ctx, uint64(inPtr), uint64(len(payload)))
	if err != nil {
		return nil, errs.Wrap(errs.KindExecutionTrap, "component trapped", err)
	}
	if len(results) < 2 {
		return nil, errs.New(errs.KindGuestError, operation+" must return (ptr, len)")
	}

	outPtr, outLen := uint32(results[0]), uint32(results[1])
	data, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, errs.New(errs.KindGuestError, operation+" returned an out-of-bounds result")
	}
	return append([]byte(nil), data...), nil
}

func (g *componentGuest) close(ctx context.Context) error {
	var err error
	if g.mod != nil {
		err = g.mod.Close(ctx)
	}
	if g.env != nil {
		g.env.Close(ctx)
	}
	return err
}
