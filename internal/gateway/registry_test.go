package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"modelgate/internal/config"
)

func TestRegistryBuildsConfiguredProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  gem:
    kind: gemini
    api_keys: [k]
  broken:
    kind: mystery
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	manager, err := config.NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	defer manager.Close()

	r := NewRegistry(manager)
	if _, err := r.Provider("gem"); err != nil {
		t.Fatalf("gem: %v", err)
	}
	// The broken entry is skipped, not fatal.
	if _, err := r.Provider("broken"); err == nil {
		t.Error("broken entry should not resolve")
	}
	if names := r.Names(); len(names) != 1 {
		t.Errorf("names = %v", names)
	}
}

func TestRegistryRebuildsOnReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("providers:\n  gem:\n    kind: gemini\n    api_keys: [k]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	manager, err := config.NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	defer manager.Close()

	r := NewRegistry(manager)
	if _, err := r.Provider("extra"); err == nil {
		t.Fatal("extra should not exist yet")
	}

	time.Sleep(20 * time.Millisecond)
	next := "providers:\n  gem:\n    kind: gemini\n    api_keys: [k]\n  extra:\n    kind: openrouter\n    api_keys: [k2]\n"
	if err := os.WriteFile(path, []byte(next), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Provider("extra"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("registry never picked up the reloaded provider")
}
