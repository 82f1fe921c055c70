package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeGoFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "a.go", "package p\n\nimport (\n\t\"os\"\n\t\"strings\"\n)\n\nvar _ = os.Args\nvar _ = strings.TrimSpace\n")
	writeGoFile(t, dir, "a_test.go", "package p\n\nimport \"net/http\"\n\nvar _ = http.Get\n")
	writeGoFile(t, dir, "notes.txt", "import \"net\"")

	viols, err := directImportViolations(dir, ImportsAny("os", "net"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "os (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestImportsAnyMatchesSubpackages(t *testing.T) {
	pred := ImportsAny("net", "cellfit/internal")
	for path, want := range map[string]bool{
		"net":                   true,
		"net/http":              true,
		"network":               false,
		"cellfit/internal/blob": true,
		"cellfit/pkg/allenfit":  false,
	} {
		if got := pred(path); got != want {
			t.Errorf("%s: want %v, got %v", path, want, got)
		}
	}
}

func TestInternalImportForbidden(t *testing.T) {
	if !InternalImportForbidden("cellfit/internal/core") || InternalImportForbidden("cellfit/pkg/cellmodel") {
		t.Fatalf("unexpected predicate result")
	}
}

func TestFailIfDirectViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "reason", nil)
	if rec.msg != "" {
		t.Fatalf("no violations should not fail")
	}
	failIfDirectViolations(rec, "pure package", []string{"os (in a.go)"})
	if !strings.Contains(rec.msg, "pure package") || !strings.Contains(rec.msg, "os (in a.go)") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}
