// ABOUTME: Minimal long-flag parser shared by the subcommands
// ABOUTME: Accepts "--name value" and "--name=value"; rejects unknown flags and positional arguments

package main

import (
	"fmt"
	"slices"
	"strings"
)

// parseFlags returns the values of the allowed long flags found in args
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	values := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !slices.Contains(allowed, name) {
			return nil, fmt.Errorf("unknown flag: --%s", name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		values[name] = value
	}
	return values, nil
}

// required reports the first missing or blank flag
func required(values map[string]string, names ...string) error {
	for _, n := range names {
		if strings.TrimSpace(values[n]) == "" {
			return fmt.Errorf("--%s flag is required", n)
		}
	}
	return nil
}
