package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "statflow"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

var rules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden:    []string{modulePath + "/internal", modulePath + "/pkg", modulePath + "/cmd"},
		hint:         "domain may only import the standard library and third-party packages",
	},
	{
		sourcePrefix: modulePath + "/internal/metadata",
		forbidden: []string{
			modulePath + "/internal/service",
			modulePath + "/internal/api",
			modulePath + "/internal/db",
			modulePath + "/internal/sdmx",
		},
		hint: "metadata depends on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/sdmx",
		forbidden: []string{
			modulePath + "/internal/service",
			modulePath + "/internal/metadata",
			modulePath + "/internal/api",
			modulePath + "/internal/db",
		},
		hint: "the warehouse client depends on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/service",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/ui",
			modulePath + "/internal/app",
			modulePath + "/internal/db",
			modulePath + "/internal/sdmx",
			modulePath + "/internal/objectstore",
			modulePath + "/internal/export",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "services reach infrastructure through domain ports",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden: []string{
			modulePath + "/internal/db",
			modulePath + "/internal/app",
			modulePath + "/internal/ui",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "api should depend on service/domain/middleware packages",
	},
	{
		sourcePrefix: modulePath + "/internal/ui",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/db",
			modulePath + "/internal/app",
		},
		hint: "ui reads the registry and services only",
	},
	{
		sourcePrefix: modulePath + "/internal/db",
		forbidden: []string{
			modulePath + "/internal/api",
			modulePath + "/internal/service",
			modulePath + "/internal/objectstore",
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
		},
		hint: "db should depend on domain and db-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/objectstore",
		forbidden:    []string{modulePath + "/internal/service", modulePath + "/internal/db", modulePath + "/internal/api"},
		hint:         "objectstore depends on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden:    []string{modulePath + "/internal/service", modulePath + "/internal/db"},
		hint:         "middleware should depend on domain and middleware-local packages",
	},
}

func TestImportBoundaries(t *testing.T) {
	root := repoRootDir()
	files, err := collectGoFiles(filepath.Join(root, "internal"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	violations := make([]string, 0)
	fset := token.NewFileSet()

	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		rel, err := filepath.Rel(root, file)
		require.NoError(t, err)
		sourcePkg := modulePath + "/" + filepath.ToSlash(filepath.Dir(rel))
		rule, ok := findRule(sourcePkg)
		if !ok {
			continue
		}

		parsed, parseErr := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		require.NoErrorf(t, parseErr, "parse imports for %s", file)

		for _, imp := range parsed.Imports {
			importPath := strings.Trim(imp.Path.Value, "\"")
			if hasPathPrefix(importPath, rule.sourcePrefix) {
				continue
			}
			if violatesRule(importPath, rule.forbidden) {
				violations = append(violations, sourcePkg+" imports "+importPath+" via "+filepath.ToSlash(rel)+"; "+rule.hint)
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("%s", strings.Join(violations, "\n"))
	}
}

func TestFindRule(t *testing.T) {
	rule, ok := findRule(modulePath + "/internal/service/fetch")
	require.True(t, ok)
	require.True(t, violatesRule(modulePath+"/internal/db/repository", rule.forbidden))
	require.False(t, violatesRule(modulePath+"/internal/dbx", rule.forbidden))

	_, ok = findRule(modulePath + "/internal/app")
	require.False(t, ok, "app wires everything and has no rule")
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range rules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func violatesRule(importPath string, forbidden []string) bool {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}
