package variables

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/conneroisu/scaffolder/internal/cache"
	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/logging"
)

// Transformer rewrites one variable value after validation.
type Transformer func(value interface{}) (interface{}, error)

// Config configures a Resolver.
type Config struct {
	CacheTTL      time.Duration
	CacheCapacity int

	// Validator overrides the SchemaSet built from Options.Schemas.
	Validator    Validator
	Transformers map[string]Transformer
	Secrets      SecretLoader
	Logger       logging.Logger

	Clock   cache.Clock
	Environ func() []string
}

// Options are the per-call resolution options.
type Options struct {
	Schemas      []descriptor.VariableSpec         `json:"schemas,omitempty"`
	Overrides    map[string]interface{}            `json:"overrides,omitempty"`
	Environment  string                            `json:"environment,omitempty"`
	Environments map[string]map[string]interface{} `json:"environments,omitempty"`
	SkipEnv      bool                              `json:"skip_env,omitempty"`
	SkipSystem   bool                              `json:"skip_system,omitempty"`
	Interpolate  bool                              `json:"interpolate,omitempty"`
	NoCache      bool                              `json:"-"`
	ProjectKey   string                            `json:"project_key,omitempty"`
}

// Resolver builds variable contexts. It is safe for concurrent use.
type Resolver struct {
	cache        *cache.Cache[*Context]
	validator    Validator
	transformers map[string]Transformer
	secrets      SecretLoader
	logger       logging.Logger
	now          cache.Clock
	environ      func() []string
}

// NewResolver creates a resolver with its own resolution cache.
func NewResolver(cfg Config) *Resolver {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	environ := cfg.Environ
	if environ == nil {
		environ = os.Environ
	}
	secrets := cfg.Secrets
	if secrets == nil {
		secrets = NopSecretLoader{}
	}

	return &Resolver{
		cache: cache.New[*Context](cache.Options{
			TTL:      cfg.CacheTTL,
			Capacity: cfg.CacheCapacity,
			Clock:    now,
		}),
		validator:    cfg.Validator,
		transformers: cfg.Transformers,
		secrets:      secrets,
		logger:       logging.OrDiscard(cfg.Logger).WithComponent("variables"),
		now:          now,
		environ:      environ,
	}
}

// Resolve builds the variable context for userVars. Every schema violation is
// reported in a single ValidationError.
func (r *Resolver) Resolve(ctx context.Context, userVars map[string]interface{}, opts Options) (*Context, error) {
	key, keyErr := cacheKey(userVars, opts)
	if keyErr != nil {
		r.logger.Debug(ctx, "Variables not cacheable", "error", keyErr.Error())
	}
	cacheable := !opts.NoCache && keyErr == nil

	if cacheable {
		if cached, ok := r.cache.Get(key); ok {
			r.logger.Debug(ctx, "Variable context cache hit", "key", key[:12])
			return cached.Clone(), nil
		}
	}

	out := newContext()

	if !opts.SkipEnv {
		out.Environment = environmentSnapshot(r.environ())
	}
	if !opts.SkipSystem {
		out.System = systemSnapshot()
	}

	merged := r.merge(userVars, opts)

	secretNames := make(map[string]bool)
	for _, spec := range opts.Schemas {
		if spec.Secret {
			secretNames[spec.Name] = true
		}
	}
	for name := range secretNames {
		if v, ok := merged[name]; ok {
			out.Secret[name] = stringify(v)
			delete(merged, name)
		}
	}

	user, err := r.validate(merged, opts.Schemas, secretNames)
	if err != nil {
		return nil, err
	}
	out.User = user

	out.Warnings = r.transform(ctx, out.User)
	out.Computed = computeVariables(out.User, opts.ProjectKey, r.now())

	if opts.Interpolate {
		interpolateContext(out)
	}

	if err := r.loadSecrets(ctx, out, opts.Schemas); err != nil {
		return nil, err
	}

	if cacheable {
		r.cache.Set(key, out.Clone())
	}

	return out, nil
}

// merge layers environment-specific config, schema defaults, user input and
// overrides. Later layers overwrite earlier keys; a nil value leaves the
// earlier one in place.
func (r *Resolver) merge(userVars map[string]interface{}, opts Options) map[string]interface{} {
	merged := make(map[string]interface{})

	if opts.Environment != "" {
		overlay(merged, opts.Environments[opts.Environment])
	}
	for _, spec := range opts.Schemas {
		if spec.Default != nil {
			merged[spec.Name] = spec.Default
		}
	}
	overlay(merged, userVars)
	overlay(merged, opts.Overrides)

	return merged
}

func overlay(dst, layer map[string]interface{}) {
	for k, v := range layer {
		if v != nil {
			dst[k] = v
		}
	}
}

func (r *Resolver) validate(merged map[string]interface{}, schemas []descriptor.VariableSpec, secret map[string]bool) (map[string]interface{}, error) {
	validator := r.validator
	if validator == nil {
		validator = NewSchemaSet(schemas)
	}
	coercer, _ := validator.(Coercer)

	collector := scaffolderrors.NewErrorCollector()

	for _, spec := range schemas {
		if secret[spec.Name] {
			continue
		}

		value, present := merged[spec.Name]
		if !present || value == nil {
			if spec.Required {
				collector.Add(spec.Name, "required", "is required")
			}
			delete(merged, spec.Name)
			continue
		}

		if coercer != nil {
			coerced, err := coercer.Coerce(spec.Name, value)
			if err != nil {
				collector.Add(spec.Name, "type", fmt.Sprintf("cannot convert %v to %s", value, spec.Type))
				continue
			}
			value = coerced
			merged[spec.Name] = value
		}

		collector.AddViolations(validator.Validate(spec.Name, value)...)
	}

	if err := collector.ValidationError(scaffolderrors.ErrCodeVariableInvalid, "variable validation failed"); err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *Resolver) transform(ctx context.Context, user map[string]interface{}) []string {
	if len(r.transformers) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.transformers))
	for name := range r.transformers {
		names = append(names, name)
	}
	sort.Strings(names)

	var warnings []string
	for _, name := range names {
		value, ok := user[name]
		if !ok {
			continue
		}
		next, err := applyTransformer(r.transformers[name], value)
		if err != nil {
			warning := fmt.Sprintf("transformer for %q failed: %v", name, err)
			warnings = append(warnings, warning)
			r.logger.Warn(ctx, err, "Transformer failed, keeping previous value", "variable", name)
			continue
		}
		user[name] = next
	}
	return warnings
}

func applyTransformer(fn Transformer, value interface{}) (out interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(value)
}

func (r *Resolver) loadSecrets(ctx context.Context, out *Context, schemas []descriptor.VariableSpec) error {
	var names []string
	var required []string
	for _, spec := range schemas {
		if !spec.Secret {
			continue
		}
		if _, ok := out.Secret[spec.Name]; !ok {
			names = append(names, spec.Name)
			if spec.Required {
				required = append(required, spec.Name)
			}
		}
	}

	loaded, err := r.secrets.Load(ctx, names)
	if err != nil {
		return scaffolderrors.Wrap(err, scaffolderrors.ErrorTypeValidation, scaffolderrors.ErrCodeSecretLoad, "failed to load secrets")
	}
	for k, v := range loaded {
		out.Secret[k] = v
	}

	collector := scaffolderrors.NewErrorCollector()
	for _, name := range required {
		if _, ok := out.Secret[name]; !ok {
			collector.Add(name, "required", "secret is required")
		}
	}
	return collector.ValidationError(scaffolderrors.ErrCodeVariableInvalid, "secret resolution failed")
}

// Stats returns the resolution cache statistics.
func (r *Resolver) Stats() cache.Stats {
	return r.cache.Stats()
}

// Clear empties the resolution cache.
func (r *Resolver) Clear() {
	r.cache.Clear()
}

func cacheKey(userVars map[string]interface{}, opts Options) (string, error) {
	payload := struct {
		User    map[string]interface{} `json:"user"`
		Options Options                `json:"options"`
	}{userVars, opts}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
