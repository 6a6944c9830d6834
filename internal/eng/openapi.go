package eng

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecReport summarizes validation of one OpenAPI document.
type SpecReport struct {
	Path       string
	Title      string
	Version    string
	Operations int
	Problems   []string
}

// OK reports whether the document passed every rule.
func (r *SpecReport) OK() bool {
	return len(r.Problems) == 0
}

// ValidateSpec loads and validates an OpenAPI document, then applies the
// repository rules: every operation must carry an operationId, and every
// operation must take a version parameter, either an api-version query
// parameter or an x-ms-version header (the storage convention).
func ValidateSpec(path string) (*SpecReport, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document from %s: %w", path, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	report := &SpecReport{Path: path}
	if doc.Info != nil {
		report.Title = doc.Info.Title
		report.Version = doc.Info.Version
	}

	paths := doc.Paths.Map()
	sortedPaths := make([]string, 0, len(paths))
	for p := range paths {
		sortedPaths = append(sortedPaths, p)
	}
	sort.Strings(sortedPaths)

	for _, p := range sortedPaths {
		pathItem := paths[p]
		operations := pathItem.Operations()
		methods := make([]string, 0, len(operations))
		for method := range operations {
			methods = append(methods, method)
		}
		sort.Strings(methods)

		for _, method := range methods {
			op := operations[method]
			report.Operations++

			where := fmt.Sprintf("%s %s", strings.ToUpper(method), p)
			if op.OperationID == "" {
				report.Problems = append(report.Problems, where+" has no operationId")
			}
			if !hasVersionParameter(pathItem.Parameters, op.Parameters) {
				report.Problems = append(report.Problems, where+" has no api-version or x-ms-version parameter")
			}
		}
	}

	return report, nil
}

func hasVersionParameter(sets ...openapi3.Parameters) bool {
	for _, params := range sets {
		for _, ref := range params {
			if ref == nil || ref.Value == nil {
				continue
			}
			param := ref.Value
			if param.In == openapi3.ParameterInQuery && param.Name == "api-version" {
				return true
			}
			if param.In == openapi3.ParameterInHeader && strings.EqualFold(param.Name, "x-ms-version") {
				return true
			}
		}
	}
	return false
}
