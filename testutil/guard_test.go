package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestImportsUnder(t *testing.T) {
	forbidden := ImportsUnder("internal/core", "/internal/store/")
	cases := []struct {
		in   string
		want bool
	}{
		{"clinicdesk/internal/core", true},
		{"clinicdesk/internal/store", true},
		{"clinicdesk/internal/store/sub", true},
		{"clinicdesk/internal/corelike", false},
		{"clinicdesk/pkg/domain", false},
		{"github.com/other/internal/core", false},
	}
	for _, c := range cases {
		if got := forbidden(c.in); got != c.want {
			t.Fatalf("ImportsUnder(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	src := "package x\n\nimport (\n\t\"fmt\"\n\t\"clinicdesk/internal/core\"\n)\n\nvar _ = fmt.Sprint\nvar _ core.Service\n"
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	test := "package x\n\nimport _ \"clinicdesk/internal/store\"\n"
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), []byte(test), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, ImportsUnder("internal"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "internal/core (in x.go)") {
		t.Fatalf("unexpected violations %v", viols)
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), ImportsUnder("internal")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = format }

func TestFailIfViolations(t *testing.T) {
	var r recordingFatal
	failIfViolations(&r, "reason", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure")
	}
	failIfViolations(&r, "reason", []string{"a"})
	if r.msg == "" {
		t.Fatalf("expected failure")
	}
}
