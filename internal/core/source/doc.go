// Package source plans where a deployment's repository lives on disk.
//
// This package contains the functional core of repository resolution: parsing a
// source URL into coordinates, listing bundled-template candidates and naming
// scratch checkout paths. All functions are pure (no I/O); the imperative shell
// (internal/shell/repository) checks the filesystem and performs the clone.
//
// # Layout
//
//	preInstalled/<org>/<repo>        bundled template (LayoutOrgRepo)
//	blueprints/<repo>                bundled template (LayoutRepo)
//	<scratch>/<token>/<org>/<repo>   fresh shallow clone, one token per invocation
//
// The per-invocation token keeps concurrent deployments of the same repository
// from sharing a checkout.
package source
