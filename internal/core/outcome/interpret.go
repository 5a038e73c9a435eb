// Package outcome classifies a deploy tool run into a DeployResult.
// This is part of the Functional Core - all functions are pure with no I/O.
package outcome

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Stderr Policy
// =============================================================================

// StderrPolicy decides whether stderr output on an otherwise clean run is a failure.
type StderrPolicy string

const (
	// StderrFail treats any stderr output as a failure.
	StderrFail StderrPolicy = "fail"
	// StderrIgnore treats stderr output as informational.
	StderrIgnore StderrPolicy = "ignore"
)

// ParseStderrPolicy parses a configured policy name. Unknown names return an error
// together with StderrFail.
func ParseStderrPolicy(s string) (StderrPolicy, error) {
	switch StderrPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StderrFail:
		return StderrFail, nil
	case StderrIgnore:
		return StderrIgnore, nil
	default:
		return StderrFail, fmt.Errorf("unknown stderr policy %q (want %q or %q)", s, StderrFail, StderrIgnore)
	}
}

// VerboseHint is the detail attached when the tool reports an error in its output.
const VerboseHint = "re-run with verbose logging for details"

// =============================================================================
// Interpret
// =============================================================================

// Interpret classifies an execution outcome. The first matching rule wins:
//  1. non-zero exit               -> tool-exit-error
//  2. stdout JSON with an error   -> tool-reported-error (unparseable stdout is informational)
//  3. stderr output (StderrFail)  -> tool-stderr-output
//  4. otherwise                   -> success
func Interpret(o domain.ExecutionOutcome, policy StderrPolicy) domain.DeployResult {
	if !o.ExitSucceeded {
		f := domain.NewFailure(domain.ReasonToolExitError,
			fmt.Sprintf("there was an error running the deploy tool (exit code %d)", o.ExitCode))
		if stderr := strings.TrimSpace(o.RawStderr); stderr != "" {
			f = f.WithDetail(stderr)
		}
		return domain.Fail(f)
	}

	if reportsError(o.RawStdout) {
		return domain.Fail(domain.NewFailure(domain.ReasonToolReportedError,
			"Could not successfully run the deploy tool").WithDetail(VerboseHint))
	}

	if policy != StderrIgnore {
		if stderr := strings.TrimSpace(o.RawStderr); stderr != "" {
			return domain.Fail(domain.NewFailure(domain.ReasonToolStderrOutput,
				"the deploy tool wrote to stderr").WithDetail(stderr))
		}
	}

	return domain.Success()
}

// reportsError parses stdout as a JSON object and checks for a truthy "error" field.
// Empty strings, false and zero do not count.
func reportsError(stdout string) bool {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return false
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return false
	}

	v, ok := parsed["error"]
	if !ok || v == nil {
		return false
	}
	switch e := v.(type) {
	case string:
		return e != ""
	case bool:
		return e
	case float64:
		return e != 0
	default:
		return true
	}
}

// IsStructured reports whether stdout parses as a JSON object. Used for logging only.
func IsStructured(stdout string) bool {
	var parsed map[string]any
	return json.Unmarshal([]byte(strings.TrimSpace(stdout)), &parsed) == nil
}
