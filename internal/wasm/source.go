// Package wasm provides WASM-based content source support for signportal.
// This allows community content providers to be distributed as WASM modules.
package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmSource loads content rows from a WASM module.
// WASM modules must export the following functions:
//
//   - fetch() -> i32 (ptr to JSON array, call get_result_len() after)
//   - get_result_len() -> i32 (length of last result)
//   - free_result() (free the last result memory)
type WasmSource struct {
	name     string
	runtime  wazero.Runtime
	module   api.Module
	wasmPath string
	siteDir  string
	mu       sync.Mutex

	// Cached function exports
	fetchFn        api.Function
	getResultLenFn api.Function
	freeResultFn   api.Function
}

// NewWasmSource creates a new WASM-based source.
// path is the path to the .wasm file (relative to siteDir or absolute).
// initConfig contains initialization parameters to pass to the module.
func NewWasmSource(name, path, siteDir string, initConfig map[string]string) (*WasmSource, error) {
	// Resolve path
	wasmPath := path
	if !filepath.IsAbs(wasmPath) {
		wasmPath = filepath.Join(siteDir, path)
	}

	// Read WASM file
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM file %s: %w", wasmPath, err)
	}

	// Create runtime
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)

	// Instantiate WASI for system calls
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	// Compile and instantiate the module
	compiledModule, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	// Create module config with optional init data
	// Use WithStartFunctions() to prevent auto-running _start,
	// making this a "reactor" module that stays alive for function calls.
	moduleConfig := wazero.NewModuleConfig().
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithArgs(name).
		WithStartFunctions()

	// Add init config as environment variables
	for k, v := range initConfig {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	module, err := r.InstantiateModule(ctx, compiledModule, moduleConfig)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	s := &WasmSource{
		name:     name,
		runtime:  r,
		module:   module,
		wasmPath: wasmPath,
		siteDir:  siteDir,
	}

	// Cache function exports
	s.fetchFn = module.ExportedFunction("fetch")
	s.getResultLenFn = module.ExportedFunction("get_result_len")
	s.freeResultFn = module.ExportedFunction("free_result")

	if s.fetchFn == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("WASM module missing required export 'fetch'")
	}
	if s.getResultLenFn == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("WASM module missing required export 'get_result_len'")
	}

	return s, nil
}

// Fetch retrieves rows from the WASM source.
func (s *WasmSource) Fetch(ctx context.Context) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Call fetch() to get pointer to result
	results, err := s.fetchFn.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("WASM fetch failed [%s]: %w", s.wasmPath, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM fetch returned no pointer [%s]", s.wasmPath)
	}
	resultPtr := uint32(results[0])

	// Get result length
	lenResults, err := s.getResultLenFn.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("WASM get_result_len failed [%s]: %w", s.wasmPath, err)
	}
	if len(lenResults) == 0 {
		return nil, fmt.Errorf("WASM get_result_len returned no value [%s]", s.wasmPath)
	}
	resultLen := uint32(lenResults[0])

	if resultLen == 0 {
		return []map[string]interface{}{}, nil
	}

	// Read result from module memory
	memory := s.module.Memory()
	if memory == nil {
		return nil, fmt.Errorf("WASM module has no memory export")
	}

	resultBytes, ok := memory.Read(resultPtr, resultLen)
	if !ok {
		return nil, fmt.Errorf("failed to read WASM memory at ptr=%d len=%d", resultPtr, resultLen)
	}

	// Free result memory if function exists
	if s.freeResultFn != nil {
		_, _ = s.freeResultFn.Call(ctx)
	}

	// Parse JSON result
	var data []map[string]interface{}
	if err := json.Unmarshal(resultBytes, &data); err != nil {
		return nil, fmt.Errorf("failed to parse WASM result as JSON: %w", err)
	}

	return data, nil
}

// Close releases all resources held by the WASM runtime.
func (s *WasmSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime != nil {
		return s.runtime.Close(context.Background())
	}
	return nil
}

// Name returns the source name.
func (s *WasmSource) Name() string {
	return s.name
}
