// Package eng implements the repository engineering checks behind the azsdk
// tool: package discovery over the sdk/ tree, per-package verification, and
// OpenAPI contract validation.
package eng

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MetadataFile is the per-package metadata file discovery keys on.
const MetadataFile = "ci.yml"

// Checks enables or disables the individual verifications CI runs for a
// package.
type Checks struct {
	VerifyVersions bool `yaml:"verify_versions"`
	VerifyDocs     bool `yaml:"verify_docs"`
	VerifyOpenAPI  bool `yaml:"verify_openapi"`
}

// Metadata is the content of a package's ci.yml.
type Metadata struct {
	Name    string `yaml:"name"`
	Service string `yaml:"service"`
	Version string `yaml:"version"`
	Checks  Checks `yaml:"checks"`

	// OpenAPI is the package-relative path of the OpenAPI document the
	// client was written against. Only read when verify_openapi is enabled.
	OpenAPI string `yaml:"openapi"`
}

// Package is one discovered SDK package: its metadata plus the directory it
// lives in, relative to the repository root.
type Package struct {
	Metadata
	Dir string
}

// Path joins the package directory with a package-relative file name.
func (p Package) Path(name string) string {
	return filepath.Join(p.Dir, name)
}

// DiscoverPackages walks the sdk/ tree under root and returns every package
// that carries a ci.yml, sorted by directory. A non-empty service narrows the
// result to packages owned by that service directory.
func DiscoverPackages(root, service string) ([]Package, error) {
	sdkRoot := filepath.Join(root, "sdk")
	if _, err := os.Stat(sdkRoot); err != nil {
		return nil, fmt.Errorf("failed to locate sdk directory under %s: %w", root, err)
	}

	var packages []Package
	err := filepath.WalkDir(sdkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != MetadataFile {
			return nil
		}

		pkg, err := readPackage(filepath.Dir(path))
		if err != nil {
			// A malformed ci.yml omits the package rather than failing the
			// whole discovery, so one broken package cannot hide the rest.
			logrus.WithError(err).WithField("path", path).Warnln("skipping package with unreadable metadata")
			return nil
		}
		packages = append(packages, pkg)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", sdkRoot, err)
	}

	if service != "" {
		filtered := packages[:0]
		for _, pkg := range packages {
			if pkg.Service == service {
				filtered = append(filtered, pkg)
			}
		}
		packages = filtered
	}

	sort.Slice(packages, func(i, j int) bool { return packages[i].Dir < packages[j].Dir })

	logrus.WithFields(logrus.Fields{
		"root":     root,
		"service":  service,
		"packages": len(packages),
	}).Debugln("discovered sdk packages")

	return packages, nil
}

func readPackage(dir string) (Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Package{}, fmt.Errorf("failed to read package metadata: %w", err)
	}

	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Package{}, fmt.Errorf("failed to parse package metadata: %w", err)
	}
	if meta.Name == "" {
		return Package{}, fmt.Errorf("package metadata in %s has no name", dir)
	}

	return Package{Metadata: meta, Dir: dir}, nil
}
