package sandbox

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// This file is the only place that speaks wazero's ABI directly: every
// host call is a thin shim that reads its request buffer, addressed by a
// (ptr, len) pair, out of guest linear memory, delegates to the
// corresponding HostBridge method, and writes the response back into guest
// memory, returned as a packed ptr<<32|len. The guest module is
// expected to export "memory", "ironclaw_alloc(size u32) u32" and
// "invoke(reqPtr u32, reqLen u32) u64" (packed as resultPtr<<32|resultLen),
// matching the wapc-style calling convention the rest of the corpus's WASM
// host (hieuntg81-alfred-ai) assumes for its own sandboxed tool calls.

const (
	callHTTPRequest     = "http_request"
	callSecretsInject   = "secrets_inject"
	callToolsInvoke     = "tools_invoke"
	callWorkspaceRead   = "workspace_read"
	callWorkspaceWrite  = "workspace_write"
	callLog             = "log"
	callTimeNow         = "time_now"
	callRandomBytes     = "random_bytes"
	hostModuleNamespace = "ironclaw"
)

func (r *Runtime) buildHostModule(ctx context.Context) (api.Module, error) {
	builder := r.wz.NewHostModuleBuilder(hostModuleNamespace)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.hostHTTPRequest), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).
		Export(callHTTPRequest)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.hostToolsInvoke), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).
		Export(callToolsInvoke)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.hostWorkspaceRead), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).
		Export(callWorkspaceRead)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.hostWorkspaceWrite), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).
		Export(callWorkspaceWrite)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.hostLog), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export(callLog)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.hostTimeNow), nil, []api.ValueType{api.ValueTypeI64}).
		Export(callTimeNow)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.hostRandomBytes), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).
		Export(callRandomBytes)

	return builder.Instantiate(ctx)
}

// readRequest charges one unit against the invocation's host-call budget
// and then copies the request buffer at (ptr, length) out of guest memory;
// once the budget is spent it returns the budget error without reading.
func readRequest(ctx context.Context, mod api.Module, ptr, length uint32) ([]byte, *invocationState, error) {
	st, err := stateFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.budget.consume(); err != nil {
		return nil, st, err
	}
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, st, ironerr.New(ironerr.KindSandboxTrap, "sandbox.readRequest", "guest memory read out of bounds")
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, st, nil
}

// writeResponse allocates space in guest memory via its exported
// ironclaw_alloc and copies data into it, returning the packed
// (ptr<<32 | len) result wazero expects back from a GoModuleFunction.
func writeResponse(ctx context.Context, mod api.Module, data []byte) []uint64 {
	alloc := mod.ExportedFunction("ironclaw_alloc")
	if alloc == nil {
		return []uint64{0}
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return []uint64{0}
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return []uint64{0}
	}
	return []uint64{(uint64(ptr) << 32) | uint64(len(data))}
}

func writeError(ctx context.Context, mod api.Module, err error) []uint64 {
	payload, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	return writeResponse(ctx, mod, payload)
}

func (r *Runtime) hostHTTPRequest(ctx context.Context, mod api.Module, stack []uint64) {
	buf, st, err := readRequest(ctx, mod, uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	var req HTTPRequestParams
	if jsonErr := json.Unmarshal(buf, &req); jsonErr != nil {
		copy(stack, writeError(ctx, mod, ironerr.Wrap(ironerr.KindValidation, "sandbox.hostHTTPRequest", jsonErr)))
		return
	}
	result, err := r.bridge.HTTPRequest(ctx, st.toolID, st.caps, req)
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	payload, _ := json.Marshal(result)
	copy(stack, writeResponse(ctx, mod, payload))
}

func (r *Runtime) hostToolsInvoke(ctx context.Context, mod api.Module, stack []uint64) {
	buf, st, err := readRequest(ctx, mod, uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	var req struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	if jsonErr := json.Unmarshal(buf, &req); jsonErr != nil {
		copy(stack, writeError(ctx, mod, ironerr.Wrap(ironerr.KindValidation, "sandbox.hostToolsInvoke", jsonErr)))
		return
	}
	result, err := r.bridge.ToolsInvoke(ctx, st.caps, st.depth, req.Name, req.Args)
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	copy(stack, writeResponse(ctx, mod, result))
}

func (r *Runtime) hostWorkspaceRead(ctx context.Context, mod api.Module, stack []uint64) {
	buf, st, err := readRequest(ctx, mod, uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	data, err := r.bridge.WorkspaceRead(st.caps, string(buf))
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	copy(stack, writeResponse(ctx, mod, data))
}

func (r *Runtime) hostWorkspaceWrite(ctx context.Context, mod api.Module, stack []uint64) {
	buf, st, err := readRequest(ctx, mod, uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	var req struct {
		Path string `json:"path"`
		Data string `json:"data"`
	}
	if jsonErr := json.Unmarshal(buf, &req); jsonErr != nil {
		copy(stack, writeError(ctx, mod, ironerr.Wrap(ironerr.KindValidation, "sandbox.hostWorkspaceWrite", jsonErr)))
		return
	}
	if err := r.bridge.WorkspaceWrite(st.caps, req.Path, []byte(req.Data)); err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	copy(stack, writeResponse(ctx, mod, []byte("{}")))
}

func (r *Runtime) hostLog(ctx context.Context, mod api.Module, stack []uint64) {
	buf, _, err := readRequest(ctx, mod, uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		return
	}
	var req struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
	}
	if json.Unmarshal(buf, &req) == nil {
		r.bridge.Log(req.Level, req.Msg)
	}
}

func (r *Runtime) hostTimeNow(ctx context.Context, mod api.Module, stack []uint64) {
	stack[0] = uint64(r.bridge.TimeNow().UnixNano())
}

func (r *Runtime) hostRandomBytes(ctx context.Context, mod api.Module, stack []uint64) {
	st, err := stateFromContext(ctx)
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	if err := st.budget.consume(); err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	n := int(uint32(stack[0]))
	data, err := r.bridge.RandomBytes(n)
	if err != nil {
		copy(stack, writeError(ctx, mod, err))
		return
	}
	copy(stack, writeResponse(ctx, mod, data))
}

// callGuestInvoke calls the guest's exported "invoke" function with input
// written into its own allocated buffer, and decodes the packed
// (ptr<<32|len) result back out of guest memory.
func (r *Runtime) callGuestInvoke(ctx context.Context, mod api.Module, input json.RawMessage) (json.RawMessage, error) {
	alloc := mod.ExportedFunction("ironclaw_alloc")
	invoke := mod.ExportedFunction("invoke")
	if alloc == nil || invoke == nil {
		return nil, ironerr.New(ironerr.KindSandboxTrap, "sandbox.callGuestInvoke", "guest module missing ironclaw_alloc/invoke exports")
	}

	allocResult, err := alloc.Call(ctx, uint64(len(input)))
	if err != nil || len(allocResult) == 0 {
		return nil, ironerr.Wrap(ironerr.KindSandboxTrap, "sandbox.callGuestInvoke", err)
	}
	ptr := uint32(allocResult[0])
	if !mod.Memory().Write(ptr, input) {
		return nil, ironerr.New(ironerr.KindSandboxTrap, "sandbox.callGuestInvoke", "failed writing input to guest memory")
	}

	packed, err := invoke.Call(ctx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return nil, ironerr.Wrap(ironerr.KindSandboxTrap, "sandbox.callGuestInvoke", err)
	}
	if len(packed) == 0 {
		return nil, ironerr.New(ironerr.KindSandboxTrap, "sandbox.callGuestInvoke", "guest returned no result")
	}

	resultPtr := uint32(packed[0] >> 32)
	resultLen := uint32(packed[0])
	out, ok := mod.Memory().Read(resultPtr, resultLen)
	if !ok {
		return nil, ironerr.New(ironerr.KindSandboxTrap, "sandbox.callGuestInvoke", "guest result out of bounds")
	}
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}
