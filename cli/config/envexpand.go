// Package config handles YAML config file loading for marksman run.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}`)

// ExpandEnv substitutes environment references in input:
//
//	${VAR}           value of VAR, or empty when unset
//	${VAR:-default}  value of VAR, or default when unset or empty
//	${VAR:?message}  value of VAR; unset or empty is an error
//
// Every missing required variable is reported, not just the first.
func ExpandEnv(input string) (string, error) {
	var missing []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, op, arg := groups[1], groups[2], groups[3]

		if value := os.Getenv(name); value != "" {
			return value
		}
		switch op {
		case ":-":
			return arg
		case ":?":
			if arg == "" {
				arg = "required but not set"
			}
			missing = append(missing, fmt.Errorf("%s: %s", name, arg))
		}
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment: %w", errors.Join(missing...))
	}
	return out, nil
}
