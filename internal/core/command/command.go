// Package command builds the deploy tool invocation.
// This is part of the Functional Core - all functions are pure with no I/O.
package command

import (
	"sort"

	"github.com/artpar/deployer/internal/core/domain"
)

// ConfirmInput is written to the deploy tool's stdin to accept its interactive prompt.
const ConfirmInput = "y\n"

// Args returns the deploy tool arguments for a manifest.
// Pattern: --verbose --manifest {fileName} --auth {key} --apihost {host}
func Args(loc domain.ManifestLocation, credentialKey, credentialHost string) []string {
	return []string{
		"--verbose",
		"--manifest", loc.FileName,
		"--auth", credentialKey,
		"--apihost", credentialHost,
	}
}

// Env renders the environment overlay as sorted KEY=VALUE pairs. The result is
// never nil: an empty overlay means an empty environment, not the caller's.
func Env(extra map[string]string) []string {
	env := make([]string, 0, len(extra))
	for k, v := range extra {
		if k == "" {
			continue
		}
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Redact returns args with the credential key masked, for logging.
func Redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--auth" && out[i+1] != "" {
			out[i+1] = "****"
		}
	}
	return out
}
