package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-tap-menu/config"
)

func TestLoadListsMergesFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lists.yaml")
	data := "default: hana\nlists:\n  hana: https://untappd.com/v/hana\n  oak: https://untappd.com/v/oak\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write list file: %v", err)
	}

	cfg := config.DefaultConfig()
	flags := config.ListFlags{"oak": "https://untappd.com/v/oak-2", "pine": "https://untappd.com/v/pine"}
	if err := loadLists(cfg, path, flags, ""); err != nil {
		t.Fatalf("load lists: %v", err)
	}

	if len(cfg.Lists) != 3 {
		t.Fatalf("lists=%v", cfg.Lists)
	}
	if cfg.Lists["oak"] != "https://untappd.com/v/oak-2" {
		t.Fatalf("flag did not override file entry: %s", cfg.Lists["oak"])
	}
	if cfg.DefaultList != "hana" {
		t.Fatalf("default=%q, want hana", cfg.DefaultList)
	}
}

func TestLoadListsSingleListBecomesDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := loadLists(cfg, "", config.ListFlags{"hana": "https://untappd.com/v/hana"}, ""); err != nil {
		t.Fatalf("load lists: %v", err)
	}
	if cfg.DefaultList != "hana" {
		t.Fatalf("default=%q, want hana", cfg.DefaultList)
	}
}

func TestLoadListsRequiresAList(t *testing.T) {
	if err := loadLists(config.DefaultConfig(), "", config.ListFlags{}, ""); err == nil {
		t.Fatalf("expected an error without lists")
	}
}
