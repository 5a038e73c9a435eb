// Package manifest locates the deployment manifest inside a repository.
// This is part of the Functional Core - the filesystem is reached only through
// the injected existence check.
package manifest

import (
	"path/filepath"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
)

const (
	// PrimaryFileName is tried first.
	PrimaryFileName = "manifest.yaml"
	// FallbackFileName is tried when the primary file is absent.
	FallbackFileName = "manifest.yml"
)

// FileNames lists the manifest names in lookup order.
var FileNames = []string{PrimaryFileName, FallbackFileName}

// ExistsFunc reports whether a regular file exists at path.
type ExistsFunc func(path string) bool

// Dir returns the directory holding the manifest, which is also the deploy tool's
// working directory.
func Dir(repoRoot, subPath string) string {
	return filepath.Join(repoRoot, cleanSubPath(subPath))
}

// cleanSubPath makes subPath relative to the repository root. A leading slash
// names the repository root, not the host root, so "/src" and "src" agree.
func cleanSubPath(subPath string) string {
	rel := strings.TrimLeft(filepath.ToSlash(subPath), "/")
	if rel == "" {
		return domain.DefaultManifestSubPath
	}
	return filepath.FromSlash(rel)
}

// Candidates returns the manifest paths to try, in order.
func Candidates(repoRoot, subPath string) []string {
	dir := Dir(repoRoot, subPath)
	out := make([]string, 0, len(FileNames))
	for _, name := range FileNames {
		out = append(out, filepath.Join(dir, name))
	}
	return out
}

// Locate picks manifest.yaml, falling back to manifest.yml, below repoRoot/subPath.
// It fails with ReasonManifestNotFound when neither exists or subPath leaves the
// repository.
func Locate(repoRoot, subPath string, exists ExistsFunc) (domain.ManifestLocation, error) {
	rel := cleanSubPath(subPath)
	dir := filepath.Join(repoRoot, rel)

	if !filepath.IsLocal(rel) {
		return domain.ManifestLocation{}, notFound(filepath.Join(dir, PrimaryFileName)).
			WithDetail("manifest path must stay inside the repository")
	}

	for _, name := range FileNames {
		candidate := filepath.Join(dir, name)
		if exists(candidate) {
			return domain.ManifestLocation{
				AbsolutePath: candidate,
				FileName:     name,
				Dir:          dir,
			}, nil
		}
	}

	return domain.ManifestLocation{}, notFound(filepath.Join(dir, FallbackFileName))
}

func notFound(path string) *domain.Failure {
	return domain.NewFailure(domain.ReasonManifestNotFound,
		"Error loading "+path+". Does a manifest file exist?").WithPath(path)
}
