package source

import (
	"path/filepath"
	"strings"
)

// =============================================================================
// Coordinates
// =============================================================================

// Coordinates identify a repository by organization and name.
type Coordinates struct {
	Org  string
	Repo string
}

// IsComplete reports whether both segments are known.
func (c Coordinates) IsComplete() bool {
	return c.Org != "" && c.Repo != ""
}

// Parse extracts organization and repository name from a source URL by stripping the
// protocol prefix and splitting on "/". The first segment is the host.
//
// Example:
//
//	Parse("https://github.com/org/repo") // returns {Org: "org", Repo: "repo"}
//
// Missing segments come back empty. Segments that could escape a directory
// ("." or "..") are treated as missing.
func Parse(sourceURL string) Coordinates {
	rest := strings.TrimSpace(sourceURL)
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}

	segments := strings.Split(rest, "/")
	return Coordinates{
		Org:  segment(segments, 1),
		Repo: segment(segments, 2),
	}
}

func segment(segments []string, i int) string {
	if i >= len(segments) {
		return ""
	}
	s := segments[i]
	if s == "." || s == ".." || strings.ContainsAny(s, `\`) {
		return ""
	}
	return s
}

// =============================================================================
// Template Layouts
// =============================================================================

// Layout describes how bundled templates are keyed below a template root.
type Layout string

const (
	// LayoutOrgRepo keys templates as <root>/<org>/<repo>.
	LayoutOrgRepo Layout = "org-repo"
	// LayoutRepo keys templates as <root>/<repo>.
	LayoutRepo Layout = "repo"
)

// TemplateRoot is a read-only directory of bundled templates.
type TemplateRoot struct {
	Dir    string
	Layout Layout
}

// TemplateCandidates returns, in order, the bundled-template paths that may hold the
// repository. Roots whose layout needs a segment the coordinates lack are skipped.
func TemplateCandidates(c Coordinates, roots []TemplateRoot) []string {
	var candidates []string
	for _, root := range roots {
		if root.Dir == "" {
			continue
		}
		switch root.Layout {
		case LayoutRepo:
			if c.Repo == "" {
				continue
			}
			candidates = append(candidates, filepath.Join(root.Dir, c.Repo))
		default:
			if !c.IsComplete() {
				continue
			}
			candidates = append(candidates, filepath.Join(root.Dir, c.Org, c.Repo))
		}
	}
	return candidates
}

// =============================================================================
// Scratch Paths
// =============================================================================

// ScratchDir returns the invocation-owned scratch directory for token.
// Pattern: {root}/{token}
func ScratchDir(root, token string) string {
	return filepath.Join(root, token)
}

// CheckoutPath returns where the repository is cloned inside a scratch directory.
// Pattern: {scratchDir}/{org}/{repo}, falling back to {scratchDir}/repo for
// coordinates missing a segment.
func CheckoutPath(scratchDir string, c Coordinates) string {
	if !c.IsComplete() {
		return filepath.Join(scratchDir, "repo")
	}
	return filepath.Join(scratchDir, c.Org, c.Repo)
}
