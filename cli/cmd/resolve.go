package cmd

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskstream/cli/config"
)

// Precedence for every setting: explicit CLI flag, then config file,
// then the flag default.

// configVal reads a field from cfg, returning the zero value for a nil config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) || cfgVal == "" {
		return c.String(name)
	}
	return cfgVal
}

func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int(name)
	}
	return cfgVal
}

func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}

// parseHeaders parses repeated key=value flag values over base.
// Flag values win over base entries with the same key.
func parseHeaders(flagName string, values []string, base map[string]string) (map[string]string, error) {
	if len(values) == 0 && len(base) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(values)+len(base))
	maps.Copy(headers, base)
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --%s %q: expected key=value", flagName, kv)
		}
		headers[k] = v
	}
	return headers, nil
}
