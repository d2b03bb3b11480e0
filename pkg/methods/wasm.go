package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/openmend/openmend/pkg/remedy"
)

// WASMMethod runs a sandboxed WASM plugin as a remediation attempt. The
// plugin exports malloc, free, and a remediate function with the signature
// remediate(input_ptr: u32, input_len: u32) -> u64, where the return packs
// (output_ptr << 32) | output_len. Input and output are JSON.
type WASMMethod struct {
	spec    *MethodSpec
	hook    ScoreHook
	runtime wazero.Runtime
	module  api.Module

	remediate api.Function
	malloc    api.Function
	free      api.Function
	memory    api.Memory
}

// wasmResult is the JSON shape a plugin returns from remediate.
type wasmResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewWASMMethod compiles and instantiates the plugin at modulePath.
func NewWASMMethod(ctx context.Context, spec *MethodSpec, modulePath string, opts BuilderOptions) (*WASMMethod, error) {
	wasmBytes, err := os.ReadFile(modulePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}

	pages := spec.WASM.MemoryLimitPages
	if pages == 0 {
		pages = 256
	}
	timeout := opts.WASMTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(initCtx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(initCtx, runtime); err != nil {
		runtime.Close(initCtx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	module, err := runtime.Instantiate(initCtx, wasmBytes)
	if err != nil {
		runtime.Close(initCtx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	m := &WASMMethod{
		spec:    spec,
		hook:    opts.Hook,
		runtime: runtime,
		module:  module,
		memory:  module.Memory(),
	}

	if m.memory == nil {
		m.Close(ctx)
		return nil, fmt.Errorf("WASM module does not export memory")
	}
	for _, fn := range []struct {
		name string
		dst  *api.Function
	}{
		{"malloc", &m.malloc},
		{"free", &m.free},
		{"remediate", &m.remediate},
	} {
		*fn.dst = module.ExportedFunction(fn.name)
		if *fn.dst == nil {
			m.Close(ctx)
			return nil, fmt.Errorf("WASM module does not export %s function", fn.name)
		}
	}

	return m, nil
}

// Name returns the method name.
func (m *WASMMethod) Name() string { return m.spec.Name }

// Prerequisites returns the required capability names.
func (m *WASMMethod) Prerequisites() []string { return m.spec.Prerequisites }

// IsAvailable reports whether the plugin instance is usable.
func (m *WASMMethod) IsAvailable(profile *remedy.ContextProfile) bool {
	return m.module != nil && !m.module.IsClosed()
}

// EstimateProbability scores the method for the given profile.
func (m *WASMMethod) EstimateProbability(profile *remedy.ContextProfile) float64 {
	base := scoreSpec(m.spec, profile)
	return applyHook(m.hook, m.spec.Name, base, profile)
}

// Execute invokes the plugin's remediate export with the serialized profile.
func (m *WASMMethod) Execute(ctx context.Context, profile *remedy.ContextProfile) (bool, string, error) {
	input, err := json.Marshal(profile)
	if err != nil {
		return false, "", fmt.Errorf("failed to marshal profile: %w", err)
	}

	output, err := m.call(ctx, input)
	if err != nil {
		return false, "", err
	}

	var result wasmResult
	if err := json.Unmarshal(output, &result); err != nil {
		return false, "", fmt.Errorf("failed to unmarshal plugin result: %w", err)
	}
	if result.Error != "" {
		return false, result.Message, fmt.Errorf("plugin error: %s", result.Error)
	}
	return result.OK, result.Message, nil
}

// Close releases the module and its runtime.
func (m *WASMMethod) Close(ctx context.Context) error {
	if m.module != nil {
		if err := m.module.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM module: %w", err)
		}
		m.module = nil
	}
	if m.runtime != nil {
		if err := m.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM runtime: %w", err)
		}
		m.runtime = nil
	}
	return nil
}

func (m *WASMMethod) call(ctx context.Context, input []byte) ([]byte, error) {
	inputPtr, err := m.allocate(ctx, uint32(len(input)))
	if err != nil {
		return nil, err
	}
	defer m.deallocate(ctx, inputPtr)

	if !m.memory.Write(inputPtr, input) {
		return nil, fmt.Errorf("failed to write input to WASM memory")
	}

	results, err := m.remediate.Call(ctx, uint64(inputPtr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)

	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := m.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	out := make([]byte, len(output))
	copy(out, output)

	_ = m.deallocate(ctx, outputPtr)

	return out, nil
}

func (m *WASMMethod) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := m.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

func (m *WASMMethod) deallocate(ctx context.Context, ptr uint32) error {
	if _, err := m.free.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("free failed: %w", err)
	}
	return nil
}
