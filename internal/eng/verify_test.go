package eng

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPackage(t *testing.T, meta Metadata) Package {
	t.Helper()
	return Package{Metadata: meta, Dir: t.TempDir()}
}

func TestVerifyVersions(t *testing.T) {
	t.Run("agreement", func(t *testing.T) {
		pkg := testPackage(t, Metadata{
			Name:    "azwidgets",
			Version: "1.2.3",
			Checks:  Checks{VerifyVersions: true},
		})
		writeFile(t, pkg.Path("version.go"),
			"package azwidgets\n\nconst (\n\tmoduleName    = \"azwidgets\"\n\tmoduleVersion = \"1.2.3\"\n)\n")

		results := VerifyPackage(pkg)
		require.Len(t, results, 1)
		assert.True(t, results[0].OK, "expected versions check to pass: %s", results[0].Detail)
	})

	t.Run("version mismatch", func(t *testing.T) {
		pkg := testPackage(t, Metadata{
			Name:    "azwidgets",
			Version: "1.2.3",
			Checks:  Checks{VerifyVersions: true},
		})
		writeFile(t, pkg.Path("version.go"),
			"package azwidgets\n\nconst (\n\tmoduleName    = \"azwidgets\"\n\tmoduleVersion = \"1.2.4\"\n)\n")

		results := VerifyPackage(pkg)
		require.Len(t, results, 1)
		assert.False(t, results[0].OK)
		assert.Contains(t, results[0].Detail, "moduleVersion")
	})

	t.Run("invalid semver", func(t *testing.T) {
		pkg := testPackage(t, Metadata{
			Name:    "azwidgets",
			Version: "1.2",
			Checks:  Checks{VerifyVersions: true},
		})

		results := VerifyPackage(pkg)
		require.Len(t, results, 1)
		assert.False(t, results[0].OK)
		assert.Contains(t, results[0].Detail, "semver")
	})

	t.Run("missing version.go", func(t *testing.T) {
		pkg := testPackage(t, Metadata{
			Name:    "azwidgets",
			Version: "1.2.3",
			Checks:  Checks{VerifyVersions: true},
		})

		results := VerifyPackage(pkg)
		require.Len(t, results, 1)
		assert.False(t, results[0].OK)
	})
}

func TestVerifyDocs(t *testing.T) {
	pkg := testPackage(t, Metadata{Name: "azwidgets", Checks: Checks{VerifyDocs: true}})

	results := VerifyPackage(pkg)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK, "missing doc.go must fail the docs check")

	writeFile(t, pkg.Path("doc.go"), "// Package azwidgets manages widgets.\npackage azwidgets\n")
	results = VerifyPackage(pkg)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK, "doc.go with a package comment must pass: %s", results[0].Detail)
}

func TestVerifyDisabledChecksProduceNoResults(t *testing.T) {
	pkg := testPackage(t, Metadata{Name: "azwidgets", Version: "not-semver"})
	assert.Empty(t, VerifyPackage(pkg))
}

// TestVerifyRepositoryPackages runs the full verification over every package
// in this repository. This is the check CI runs; it keeps version.go, doc.go,
// and the OpenAPI documents consistent with each package's ci.yml.
func TestVerifyRepositoryPackages(t *testing.T) {
	packages, err := DiscoverPackages(filepath.Join("..", ".."), "")
	require.NoError(t, err)
	require.NotEmpty(t, packages)

	for _, pkg := range packages {
		t.Run(pkg.Name, func(t *testing.T) {
			for _, result := range VerifyPackage(pkg) {
				assert.True(t, result.OK, "%s %s: %s", result.Package, result.Check, result.Detail)
			}
		})
	}
}
