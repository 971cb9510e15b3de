package routing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSMediaStorageExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ring.slin")
	if err := os.WriteFile(file, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	var storage OSMediaStorage
	if !storage.Exists(file) {
		t.Error("existing file not found")
	}
	if storage.Exists(filepath.Join(dir, "missing.slin")) {
		t.Error("missing file reported as existing")
	}
	if storage.Exists(dir) {
		t.Error("directory reported as a media file")
	}
}
