package domain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"herbtrace/testutil"
)

// forbiddenImports lists import path fragments the domain layer must never
// depend on: internal packages, transports and storage drivers.
var forbiddenImports = []string{"/internal/", "net/http", "database/sql", "github.com/gin-gonic/", "go.uber.org/zap"}

// TestDomainImportsStayPure keeps the ledger model free of infrastructure so
// the state machine and hash chain can be replayed anywhere.
func TestDomainImportsStayPure(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("cannot get working dir: %v", err)
	}
	entries, err := os.ReadDir(wd)
	if err != nil {
		t.Fatalf("cannot read dir: %v", err)
	}

	violations := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		// #nosec G304 -- path is derived from directory entries within the package
		data, err := os.ReadFile(filepath.Join(wd, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		for _, imp := range importsOf(string(data)) {
			for _, bad := range forbiddenImports {
				if strings.Contains(imp, bad) {
					violations++
					t.Errorf("domain package must not import %s (%s)", imp, name)
				}
			}
		}
	}
	if violations > 0 {
		t.Fatalf("found %d forbidden imports in domain package", violations)
	}
}

func TestDomainDependencyClosure(t *testing.T) {
	if testing.Short() {
		t.Skip("go list -deps is slow")
	}
	testutil.AssertNoTransitiveDependency(t, ".", func(path string) bool {
		return testutil.StorageImportForbidden(path) ||
			testutil.TransportImportForbidden(path) ||
			testutil.InternalImportForbidden(path)
	}, "the ledger model must replay without storage, transport or internal packages")
}

func importsOf(src string) []string {
	var out []string
	inBlock := false
	for _, raw := range strings.Split(src, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case !inBlock && strings.HasPrefix(line, "import ("):
			inBlock = true
		case !inBlock && strings.HasPrefix(line, "import "):
			if q := extractQuoted(line); q != "" {
				out = append(out, q)
			}
		case inBlock && line == ")":
			inBlock = false
		case inBlock:
			if q := extractQuoted(line); q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}

// extractQuoted returns the first double-quoted string literal in a line, or "".
func extractQuoted(line string) string {
	start := strings.Index(line, "\"")
	if start == -1 {
		return ""
	}
	end := strings.Index(line[start+1:], "\"")
	if end == -1 {
		return ""
	}
	return line[start+1 : start+1+end]
}
