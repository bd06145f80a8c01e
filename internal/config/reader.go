// Copyright 2025 Redpanda Data, Inc.

package config

import (
	"context"
	"os"
)

// EnvLookupFunc resolves an environment variable by name, reporting whether
// it was set. The default implementation wraps os.LookupEnv; tests
// substitute a stub via OptUseEnvLookupFunc.
type EnvLookupFunc func(ctx context.Context, name string) (string, bool)

// Reader reads and resolves on-disk YAML configuration, including the
// ${FOO:default|func} environment variable interpolation implemented in
// env_vars.go.
type Reader struct {
	path          string
	overrides     []string
	envLookupFunc EnvLookupFunc
}

// OptFunc configures a Reader at construction time.
type OptFunc func(*Reader)

// OptUseEnvLookupFunc overrides the function used to resolve environment
// variable references, primarily for testing.
func OptUseEnvLookupFunc(fn EnvLookupFunc) OptFunc {
	return func(r *Reader) { r.envLookupFunc = fn }
}

// NewReader constructs a Reader for the config file at path. overrides is a
// list of "dot.path=value" assignments applied after env-var interpolation
// (mirrors the teacher's --set CLI flag); it may be nil.
func NewReader(path string, overrides []string, opts ...OptFunc) *Reader {
	r := &Reader{
		path:      path,
		overrides: overrides,
		envLookupFunc: func(_ context.Context, name string) (string, bool) {
			return os.LookupEnv(name)
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}
