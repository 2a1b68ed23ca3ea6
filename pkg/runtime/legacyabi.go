package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/log"
)

// legacyCallState is the per-invocation scratch space the wasmbus host
// functions read and write, per spec.md §6.2. A fresh one backs every
// call; nothing here is shared across invocations.
type legacyCallState struct {
	operation string
	payload   []byte
	response  []byte
	guestErr  string
	hostResp  []byte
	hostErr   string
}

// legacyGuest runs one invocation of a core module linked against the
// legacy wasmbus host ABI.
type legacyGuest struct {
	env     wazero.Runtime
	hostMod api.Module
	mod     api.Module
	st      *legacyCallState
}

// newLegacyGuestFactory builds a guestFactory for a core module. Each
// call gets its own wazero.Runtime so the "wasmbus" import module name
// never collides across concurrent invocations of the same Instance.
func newLegacyGuestFactory(rt *Runtime, moduleBytes []byte, dispatcher CapabilityDispatcher, sourceID string, minPages, maxPages uint32) guestFactory {
	return func(ctx context.Context) (guest, error) {
		env, err := rt.newEnv(ctx)
		if err != nil {
			return nil, err
		}

		st := &legacyCallState{}

		hostMod, err := env.NewHostModuleBuilder("wasmbus").
			NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, opPtr, pldPtr uint32) {
				mod.Memory().Write(opPtr, []byte(st.operation))
				mod.Memory().Write(pldPtr, st.payload)
			}).Export("__guest_request").
			NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
				data, ok := mod.Memory().Read(ptr, length)
				if ok {
					st.response = append([]byte(nil), data...)
				}
			}).Export("__guest_response").
			NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
				data, ok := mod.Memory().Read(ptr, length)
				if ok {
					st.guestErr = string(data)
				}
			}).Export("__guest_error").
			NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, bdPtr, bdLen, nsPtr, nsLen, opPtr, opLen, pldPtr, pldLen uint32) uint32 {
				namespace, _ := mod.Memory().Read(nsPtr, nsLen)
				operation, _ := mod.Memory().Read(opPtr, opLen)
				payload, _ := mod.Memory().Read(pldPtr, pldLen)
				resp, err := dispatcher.Dispatch(ctx, sourceID, string(namespace), string(operation), payload)
				if err != nil {
					st.hostErr = err.Error()
					return 0
				}
				st.hostResp = resp
				return 1
			}).Export("__host_call").
			NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
				mod.Memory().Write(ptr, st.hostResp)
			}).Export("__host_response").
			NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
				mod.Memory().Write(ptr, []byte(st.hostErr))
			}).Export("__host_error").
			NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
				data, ok := mod.Memory().Read(ptr, length)
				if ok {
					log.Logger.Debug().Str("component_id", sourceID).Str("log", string(data)).Msg("guest console log")
				}
			}).Export("__console_log").
			Instantiate(ctx)
		if err != nil {
			env.Close(ctx)
			return nil, errs.Wrap(errs.KindHostError, "register legacy ABI host module", err)
		}

		memCfg := wazero.NewModuleConfig()
		if maxPages > 0 {
			// wazero sizes memory from the module's own memory section.
			// minPages/maxPages are not applied here, and Validate does
			// not compare the module's declared limits against them.
			_ = minPages
		}

		mod, err := env.InstantiateWithConfig(ctx, moduleBytes, memCfg)
		if err != nil {
			hostMod.Close(ctx)
			env.Close(ctx)
			return nil, errs.Wrap(errs.KindHostError, "instantiate guest module", err)
		}

		return &legacyGuest{env: env, hostMod: hostMod, mod: mod, st: st}, nil
	}
}

func (g *legacyGuest) invoke(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	g.st.operation = operation
	g.st.payload = payload

	call := g.mod.ExportedFunction("__guest_call")
	if call == nil {
		return nil, errs.New(errs.KindGuestError, "module does not export __guest_call")
	}

	results, err := call.Call(ctx, uint64(len(operation)), uint64(len(payload)))
	if err != nil {
		return nil, errs.Wrap(errs.KindExecutionTrap, "guest trapped", err)
	}
	if len(results) == 0 || results[0] == 0 {
		if g.st.guestErr != "" {
			return nil, errs.New(errs.KindGuestError, g.st.guestErr)
		}
		return nil, errs.New(errs.KindGuestError, "guest call returned failure with no error message")
	}
	return g.st.response, nil
}

func (g *legacyGuest) close(ctx context.Context) error {
	var err error
	if g.mod != nil {
		err = g.mod.Close(ctx)
	}
	if g.hostMod != nil {
		g.hostMod.Close(ctx)
	}
	if g.env != nil {
		g.env.Close(ctx)
	}
	return err
}
