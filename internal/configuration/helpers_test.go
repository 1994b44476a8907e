package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"replikit/internal/static"
)

func defaultYAML(t *testing.T) string {
	t.Helper()
	raw, err := static.FS.ReadFile("application.yml")
	if err != nil {
		t.Fatalf("read embedded defaults: %v", err)
	}
	return string(raw)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
