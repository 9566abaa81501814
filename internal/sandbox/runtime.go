package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// Artifact is a compiled WASM module plus the checksum it was admitted
// under. The runtime refuses to compile anything whose bytes no longer
// match the checksum recorded when the tool was registered.
type Artifact struct {
	Name     string
	Bytes    []byte
	Checksum string // sha256 hex, recorded at registration time
}

// Output is the result of one sandboxed invocation.
type Output struct {
	Result   json.RawMessage
	Duration time.Duration
}

// Runtime compiles and invokes WASM artifacts under a capability-bounded
// host interface. One Runtime is shared across every tool call; each
// Invoke gets a fresh wazero module instance with cleared linear memory,
// so no state leaks between calls to the same artifact.
type Runtime struct {
	mu      sync.Mutex
	wz      wazero.Runtime
	bridge  *HostBridge
	host    api.Module
	rates     *rateLimiters
	cache     map[string]wazero.CompiledModule
	baselines map[string]string // artifact name -> admitted sha256 hex
	ctxRoot   context.Context
}

// NewRuntime constructs a Runtime backed by wazero's default (compiler, falls
// back to interpreter on unsupported platforms) engine.
func NewRuntime(ctx context.Context, bridge *HostBridge, ratePerMinute int) (*Runtime, error) {
	wz := wazero.NewRuntime(ctx)
	r := &Runtime{
		wz:        wz,
		bridge:    bridge,
		rates:     newRateLimiters(ratePerMinute),
		cache:     make(map[string]wazero.CompiledModule),
		baselines: make(map[string]string),
		ctxRoot:   ctx,
	}
	host, err := r.buildHostModule(ctx)
	if err != nil {
		wz.Close(ctx)
		return nil, err
	}
	r.host = host
	return r, nil
}

// Close releases the underlying wazero runtime and every compiled module.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wz.Close(ctx)
}

// Compile verifies art.Bytes against art.Checksum, then compiles and caches
// the module under art.Name. Recompiling under the same name with different
// bytes is an error: once admitted, an artifact's code cannot change
// without a fresh registration carrying a fresh checksum.
func (r *Runtime) Compile(ctx context.Context, art Artifact) error {
	sum := sha256.Sum256(art.Bytes)
	actual := hex.EncodeToString(sum[:])
	if actual != art.Checksum {
		return ironerr.New(ironerr.KindIntegrity, "sandbox.Compile",
			"artifact "+art.Name+" checksum mismatch: tampered or corrupted module")
	}

	compiled, err := r.wz.CompileModule(ctx, art.Bytes)
	if err != nil {
		return ironerr.Wrap(ironerr.KindSandboxTrap, "sandbox.Compile", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[art.Name]; ok {
		_ = existing.Close(ctx)
	}
	r.cache[art.Name] = compiled
	r.baselines[art.Name] = art.Checksum
	return nil
}

// VerifyArtifacts re-hashes every admitted artifact's current bytes, fetched
// through load, against the checksum it was compiled under, returning the
// names that no longer match. The heartbeat runs this periodically so an
// artifact swapped on disk after admission is noticed before its next
// invocation. A load failure counts as a mismatch: an artifact that can no
// longer be read cannot be trusted either.
func (r *Runtime) VerifyArtifacts(load func(name string) ([]byte, error)) []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.baselines))
	for name := range r.baselines {
		names = append(names, name)
	}
	baselines := make(map[string]string, len(r.baselines))
	for k, v := range r.baselines {
		baselines[k] = v
	}
	r.mu.Unlock()

	var tampered []string
	for _, name := range names {
		data, err := load(name)
		if err != nil {
			tampered = append(tampered, name)
			continue
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != baselines[name] {
			tampered = append(tampered, name)
		}
	}
	sort.Strings(tampered)
	return tampered
}

// Invoke instantiates a fresh module instance for art.Name and calls its
// exported "invoke" function with input, under the given capabilities and
// limits. Each Invoke takes one token from the tool's rate limiter and is
// refused when none is left; the host calls the guest makes are charged
// against limits' host-call budget (see Limits).
func (r *Runtime) Invoke(ctx context.Context, toolID, artifactName string, caps Capabilities, limits Limits, input json.RawMessage) (Output, error) {
	start := time.Now()

	if !r.rates.allow(artifactName) {
		return Output{}, ironerr.New(ironerr.KindSandboxFuel, "sandbox.Invoke", "rate limit exceeded for "+artifactName)
	}

	r.mu.Lock()
	compiled, ok := r.cache[artifactName]
	r.mu.Unlock()
	if !ok {
		return Output{}, ironerr.New(ironerr.KindNotFound, "sandbox.Invoke", "no compiled artifact named "+artifactName)
	}

	ctx, cancel := withDeadline(ctx, limits.WallClock)
	defer cancel()

	bud := newBudget(limits.HostCallBudget)
	ctx = withInvocationState(ctx, toolID, caps, bud)

	cfg := wazero.NewModuleConfig().
		WithStartFunctions().
		WithName("")

	mod, err := r.wz.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return Output{}, ironerr.Wrap(ironerr.KindSandboxTrap, "sandbox.Invoke", err)
	}
	defer mod.Close(ctx)

	result, err := r.callGuestInvoke(ctx, mod, input)
	if err != nil {
		return Output{}, err
	}

	return Output{Result: result, Duration: time.Since(start)}, nil
}

// invocationState carries the per-call security context host functions
// consult; it is attached to the context passed into InstantiateModule so
// every host call can recover it without a global.
type invocationState struct {
	toolID string
	caps   Capabilities
	budget *budget
	depth  int
}

type invocationStateKey struct{}

// withInvocationState attaches a fresh invocation state; when ctx already
// carries one (a nested tools.invoke), the new depth is the parent's plus one.
func withInvocationState(ctx context.Context, toolID string, caps Capabilities, bud *budget) context.Context {
	st := &invocationState{toolID: toolID, caps: caps, budget: bud}
	if parent, ok := ctx.Value(invocationStateKey{}).(*invocationState); ok {
		st.depth = parent.depth + 1
	}
	return context.WithValue(ctx, invocationStateKey{}, st)
}

func stateFromContext(ctx context.Context) (*invocationState, error) {
	st, ok := ctx.Value(invocationStateKey{}).(*invocationState)
	if !ok {
		return nil, ironerr.New(ironerr.KindConfig, "sandbox.stateFromContext", "no invocation state on context")
	}
	return st, nil
}
