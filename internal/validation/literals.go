package validation

import (
	"bufio"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// rawLiterals maps a domain string value to the constant that names it.
var rawLiterals = map[string]string{
	"Berjalan":    "domain.StatusOngoing",
	"Selesai":     "domain.StatusCompleted",
	"Tertunda":    "domain.StatusOnHold",
	"Hadir":       "domain.AttendancePresent",
	"Izin":        "domain.AttendanceLeave",
	"Sakit":       "domain.AttendanceSick",
	"Lembur":      "domain.AttendanceOvertime",
	"Alpha":       "domain.AttendanceAbsent",
	"super_admin": "access.RoleSuperAdmin",
	"kontraktor":  "access.RoleKontraktor",
	"pengawas":    "access.RolePengawas",
	"keuangan":    "access.RoleKeuangan",
}

// comparedFields are selectors that must never be compared with a string
// literal.
var comparedFields = map[string]bool{
	"Status": true,
	"Role":   true,
	"Type":   true,
}

var literalPattern = buildLiteralPattern()

func buildLiteralPattern() *regexp.Regexp {
	alts := make([]string, 0, len(rawLiterals))
	for v := range rawLiterals {
		alts = append(alts, regexp.QuoteMeta(v))
	}
	return regexp.MustCompile(`"(` + strings.Join(alts, "|") + `)"`)
}

// ValidateDomainLiterals scans the non-test Go files under dir for raw
// status, attendance and role strings, and for comparisons of Status, Role
// or Type fields against string literals.
func ValidateDomainLiterals(dir string) []Error {
	var errs []Error
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		errs = append(errs, validateFileText(path)...)
		errs = append(errs, validateFileAST(path)...)
		return nil
	})
	if err != nil {
		errs = append(errs, Error{File: dir, Message: "walk directory: " + err.Error()})
	}
	return errs
}

func validateFileText(path string) []Error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return []Error{{File: path, Message: "open file: " + err.Error()}}
	}
	defer func() { _ = f.Close() }()

	var errs []Error
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" || isCommentLine(text) {
			continue
		}
		for _, m := range literalPattern.FindAllStringSubmatch(text, -1) {
			errs = append(errs, Error{
				File:    path,
				Line:    line,
				Message: "use " + rawLiterals[m[1]] + " instead of a raw string",
				Code:    strings.TrimSpace(text),
			})
		}
	}
	return errs
}

func validateFileAST(path string) []Error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil
	}
	var errs []Error
	ast.Inspect(file, func(n ast.Node) bool {
		bin, ok := n.(*ast.BinaryExpr)
		if !ok || (bin.Op != token.EQL && bin.Op != token.NEQ) {
			return true
		}
		field, lit := comparedLiteral(bin.X, bin.Y)
		if field == "" {
			field, lit = comparedLiteral(bin.Y, bin.X)
		}
		if field != "" {
			pos := fset.Position(bin.Pos())
			errs = append(errs, Error{
				File:    pos.Filename,
				Line:    pos.Line,
				Message: "compare ." + field + " against a typed constant",
				Code:    "." + field + " " + bin.Op.String() + " " + lit,
			})
		}
		return true
	})
	return errs
}

func comparedLiteral(a, b ast.Expr) (string, string) {
	sel, ok := a.(*ast.SelectorExpr)
	if !ok || !comparedFields[sel.Sel.Name] {
		return "", ""
	}
	lit, ok := b.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", ""
	}
	if v, err := strconv.Unquote(lit.Value); err != nil || v == "" {
		return "", ""
	}
	return sel.Sel.Name, lit.Value
}

func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/*")
}
