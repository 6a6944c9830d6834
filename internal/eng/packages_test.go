package eng

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverPackages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sdk", "widgets", "ci.yml"),
		"name: widgets\nservice: widgets\nversion: 1.0.0\n")
	writeFile(t, filepath.Join(root, "sdk", "storage", "azthings", "ci.yml"),
		"name: azthings\nservice: storage\nversion: 0.2.0\n")
	// Malformed metadata is skipped, not fatal.
	writeFile(t, filepath.Join(root, "sdk", "broken", "ci.yml"), "name: [\n")
	// A directory without ci.yml is not a package.
	writeFile(t, filepath.Join(root, "sdk", "internalshared", "shared.go"), "package internalshared\n")

	packages, err := DiscoverPackages(root, "")
	require.NoError(t, err)
	require.Len(t, packages, 2)

	// Sorted by directory.
	assert.Equal(t, "azthings", packages[0].Name)
	assert.Equal(t, "storage", packages[0].Service)
	assert.Equal(t, "0.2.0", packages[0].Version)
	assert.Equal(t, "widgets", packages[1].Name)

	filtered, err := DiscoverPackages(root, "storage")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "azthings", filtered[0].Name)

	none, err := DiscoverPackages(root, "nosuchservice")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDiscoverPackagesMissingRoot(t *testing.T) {
	_, err := DiscoverPackages(t.TempDir(), "")
	require.Error(t, err)
}

// TestDiscoverRepositoryPackages runs discovery against this repository
// itself and pins the shipped package set.
func TestDiscoverRepositoryPackages(t *testing.T) {
	packages, err := DiscoverPackages(filepath.Join("..", ".."), "")
	require.NoError(t, err)

	names := make(map[string]string, len(packages))
	for _, pkg := range packages {
		names[pkg.Name] = pkg.Service
	}

	assert.Equal(t, "azcore", names["azcore"])
	assert.Equal(t, "azidentity", names["azidentity"])
	assert.Equal(t, "appconfig", names["appconfig"])
	assert.Equal(t, "keyvault", names["azsecrets"])
	assert.Equal(t, "storage", names["azblob"])
	assert.Equal(t, "ai", names["azagents"])
	assert.Equal(t, "resourcemanager", names["armresources"])
}
