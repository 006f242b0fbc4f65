// Package validation checks repository structure: package layering and
// raw domain literals that should go through typed constants.
package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Error is one violation found in the tree.
type Error struct {
	File    string
	Line    int
	Message string
	Code    string
}

func (e Error) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s (%s)", e.File, e.Line, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.File, e.Message, e.Code)
}

// ImportRule forbids packages under From (minus Except) from importing
// anything under Forbid. All entries are path prefixes.
type ImportRule struct {
	Name   string
	From   []string
	Except []string
	Forbid []string
}

// DefaultImportRules is the layering of the rabtrack module.
func DefaultImportRules(module string) []ImportRule {
	p := func(s string) string { return module + "/" + s }
	return []ImportRule{
		{
			Name:   "domain stays independent",
			From:   []string{p("pkg/domain")},
			Forbid: []string{p("internal"), p("cmd")},
		},
		{
			Name:   "blob drivers stay behind the blob package",
			From:   []string{module},
			Except: []string{p("internal/blob"), p("internal/infra/blob")},
			Forbid: []string{p("internal/infra/blob")},
		},
		{
			Name:   "document stores are opened by core",
			From:   []string{module},
			Except: []string{p("internal/core"), p("internal/infra/persistence")},
			Forbid: []string{p("internal/infra/persistence")},
		},
		{
			Name:   "calculators do not depend on the store",
			From:   []string{p("internal/access"), p("internal/ledger"), p("internal/pricing")},
			Forbid: []string{p("internal/core"), p("internal/httpapi"), p("internal/infra"), p("internal/session")},
		},
		{
			Name:   "http stays at the edge",
			From:   []string{module},
			Except: []string{p("internal/httpapi"), p("cmd")},
			Forbid: []string{"github.com/gofiber/fiber"},
		},
	}
}

// ValidateImports loads every non-test package under dir and reports imports
// that break a rule.
func ValidateImports(dir string, rules []ImportRule) ([]Error, error) {
	if len(rules) == 0 {
		return nil, errors.New("no import rules provided")
	}
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedFiles, Dir: dir}
	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	var out []Error
	for _, pkg := range pkgs {
		for _, perr := range pkg.Errors {
			out = append(out, Error{File: pkg.PkgPath, Message: "package error: " + perr.Msg})
		}
		imports := make([]string, 0, len(pkg.Imports))
		for path := range pkg.Imports {
			imports = append(imports, path)
		}
		sort.Strings(imports)
		for _, rule := range rules {
			if !hasPrefix(pkg.PkgPath, rule.From) || hasPrefix(pkg.PkgPath, rule.Except) {
				continue
			}
			for _, imp := range imports {
				if hasPrefix(imp, rule.Forbid) {
					out = append(out, Error{
						File:    pkg.PkgPath,
						Message: rule.Name,
						Code:    imp,
					})
				}
			}
		}
	}
	return out, nil
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
