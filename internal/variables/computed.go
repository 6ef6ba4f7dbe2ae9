package variables

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/conneroisu/scaffolder/internal/textcase"
)

// DefaultProjectNameKey is the user variable whose case variants are derived
// into the computed layer.
const DefaultProjectNameKey = "projectName"

func computeVariables(user map[string]interface{}, projectKey string, now time.Time) map[string]interface{} {
	computed := map[string]interface{}{
		"timestamp":     now.UTC().Format(time.RFC3339),
		"unix":          now.Unix(),
		"date":          now.Format("2006-01-02"),
		"year":          now.Year(),
		"os":            runtime.GOOS,
		"arch":          runtime.GOARCH,
		"pathSeparator": string(os.PathSeparator),
	}

	if projectKey == "" {
		projectKey = DefaultProjectNameKey
	}
	raw, ok := user[projectKey]
	if !ok {
		return computed
	}
	name, err := cast.ToStringE(raw)
	if err != nil || strings.TrimSpace(name) == "" {
		return computed
	}

	variants := map[string]func(string) string{
		"Kebab":    textcase.Kebab,
		"Snake":    textcase.Snake,
		"Camel":    textcase.Camel,
		"Pascal":   textcase.Pascal,
		"Title":    textcase.Title,
		"Upper":    textcase.Upper,
		"Lower":    textcase.Lower,
		"Constant": textcase.Constant,
	}
	for suffix, fn := range variants {
		computed[projectKey+suffix] = fn(name)
	}

	return computed
}

func systemSnapshot() map[string]interface{} {
	system := map[string]interface{}{
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
		"numCPU":    runtime.NumCPU(),
		"goVersion": runtime.Version(),
	}
	if host, err := os.Hostname(); err == nil {
		system["hostname"] = host
	}
	if wd, err := os.Getwd(); err == nil {
		system["cwd"] = wd
	}
	if home, err := os.UserHomeDir(); err == nil {
		system["home"] = home
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(key); u != "" {
			system["user"] = u
			break
		}
	}
	return system
}

func environmentSnapshot(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}
