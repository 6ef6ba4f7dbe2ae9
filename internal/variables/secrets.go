package variables

import (
	"context"
	"os"

	"github.com/conneroisu/scaffolder/internal/textcase"
)

// SecretLoader resolves secret variables by name. Implementations decide
// where secrets live; names without a value are simply omitted.
type SecretLoader interface {
	Load(ctx context.Context, names []string) (map[string]string, error)
}

// NopSecretLoader returns no secrets.
type NopSecretLoader struct{}

// Load implements SecretLoader.
func (NopSecretLoader) Load(context.Context, []string) (map[string]string, error) {
	return map[string]string{}, nil
}

// EnvSecretLoader reads secrets from environment variables named
// Prefix + CONSTANT_CASE(name), e.g. SCAFFOLDER_SECRET_API_TOKEN.
type EnvSecretLoader struct {
	Prefix string
	// Lookup defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// Load implements SecretLoader.
func (l EnvSecretLoader) Load(_ context.Context, names []string) (map[string]string, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := lookup(l.Prefix + textcase.Constant(name)); ok {
			out[name] = v
		}
	}
	return out, nil
}
