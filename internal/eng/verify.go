package eng

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// CheckResult is the outcome of a single verification for a single package.
type CheckResult struct {
	Package string
	Check   string
	OK      bool
	Detail  string
}

var (
	moduleNamePattern    = regexp.MustCompile(`moduleName\s*=\s*"([^"]+)"`)
	moduleVersionPattern = regexp.MustCompile(`moduleVersion\s*=\s*"([^"]+)"`)
)

// VerifyPackage runs every check the package's ci.yml enables and returns one
// result per check. Disabled checks produce no result.
func VerifyPackage(pkg Package) []CheckResult {
	var results []CheckResult
	if pkg.Checks.VerifyVersions {
		results = append(results, verifyVersions(pkg))
	}
	if pkg.Checks.VerifyDocs {
		results = append(results, verifyDocs(pkg))
	}
	if pkg.Checks.VerifyOpenAPI {
		results = append(results, verifyOpenAPI(pkg))
	}
	return results
}

func pass(pkg Package, check string) CheckResult {
	return CheckResult{Package: pkg.Name, Check: check, OK: true}
}

func fail(pkg Package, check, format string, args ...any) CheckResult {
	return CheckResult{Package: pkg.Name, Check: check, Detail: fmt.Sprintf(format, args...)}
}

// verifyVersions checks that the declared version is valid semver and that
// the version.go constants agree with ci.yml on both name and version.
func verifyVersions(pkg Package) CheckResult {
	const check = "versions"

	// Releases use full major.minor.patch versions, so "1.2" is rejected
	// even though semver.IsValid would accept it.
	if v := "v" + pkg.Version; semver.Canonical(v) != v {
		return fail(pkg, check, "version %q is not valid semver", pkg.Version)
	}

	data, err := os.ReadFile(pkg.Path("version.go"))
	if err != nil {
		return fail(pkg, check, "failed to read version.go: %v", err)
	}
	source := string(data)

	name := constValue(moduleNamePattern, source)
	if name != pkg.Name {
		return fail(pkg, check, "moduleName %q does not match ci.yml name %q", name, pkg.Name)
	}
	version := constValue(moduleVersionPattern, source)
	if version != pkg.Version {
		return fail(pkg, check, "moduleVersion %q does not match ci.yml version %q", version, pkg.Version)
	}

	return pass(pkg, check)
}

func constValue(pattern *regexp.Regexp, source string) string {
	m := pattern.FindStringSubmatch(source)
	if m == nil {
		return ""
	}
	return m[1]
}

// verifyDocs checks that the package carries a doc.go opening with a package
// doc comment.
func verifyDocs(pkg Package) CheckResult {
	const check = "docs"

	data, err := os.ReadFile(pkg.Path("doc.go"))
	if err != nil {
		return fail(pkg, check, "failed to read doc.go: %v", err)
	}
	if !strings.Contains(string(data), "// Package ") {
		return fail(pkg, check, "doc.go has no package doc comment")
	}

	return pass(pkg, check)
}

// verifyOpenAPI loads the OpenAPI document named by ci.yml and applies the
// repository contract rules to it.
func verifyOpenAPI(pkg Package) CheckResult {
	const check = "openapi"

	if pkg.OpenAPI == "" {
		return fail(pkg, check, "verify_openapi is enabled but ci.yml names no openapi document")
	}

	report, err := ValidateSpec(pkg.Path(pkg.OpenAPI))
	if err != nil {
		return fail(pkg, check, "failed to validate %s: %v", pkg.OpenAPI, err)
	}
	if !report.OK() {
		return fail(pkg, check, "%s: %s", pkg.OpenAPI, strings.Join(report.Problems, "; "))
	}

	return pass(pkg, check)
}
