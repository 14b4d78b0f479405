package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "config.json", `{"chain":{"chain_id":1}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Session.TTLSeconds != 3600 || cfg.Session.CapBPS != 2000 {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Governance.StoreDriver != "memory" || cfg.Replay.Driver != "memory" {
		t.Fatalf("unexpected driver defaults: %+v %+v", cfg.Governance, cfg.Replay)
	}
	if cfg.Chain.ProvenanceThreshold != 2 {
		t.Fatalf("unexpected provenance threshold: %d", cfg.Chain.ProvenanceThreshold)
	}
}

func TestStrictModeRejectsZeroAddress(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "allowlist.yaml", "tokens:\n  - \"0x1111111111111111111111111111111111111111\"\n")

	path := writeFile(t, dir, "config.json", `{
        "strict": true,
        "chain": {
            "chain_id": 1,
            "entry_point": "0x0000000000000000000000000000000000000000",
            "smart_account": "0x1111111111111111111111111111111111111111"
        },
        "guardrail": {"allowlist_path": "allowlist.yaml"}
    }`)

	if _, err := Load(path); err == nil {
		t.Fatalf("strict mode must reject a zero entry point")
	}
}

func TestStrictModeRequiresAllowlist(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "config.json", `{
        "strict": true,
        "chain": {
            "chain_id": 1,
            "entry_point": "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789",
            "smart_account": "0x1111111111111111111111111111111111111111"
        }
    }`)

	if _, err := Load(path); err == nil {
		t.Fatalf("strict mode must require an allowlist path")
	}
}

func TestLoadAllowlist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "allowlist.yaml", `
tokens:
  - "0x1111111111111111111111111111111111111111"
routers:
  - "0x2222222222222222222222222222222222222222"
flagged_spenders:
  - "0x3333333333333333333333333333333333333333"
`)

	list, err := LoadAllowlist(path, true)
	if err != nil {
		t.Fatalf("load allowlist failed: %v", err)
	}
	if len(list.Tokens) != 1 || len(list.Routers) != 1 || len(list.FlaggedSpenders) != 1 {
		t.Fatalf("unexpected allowlist: %+v", list)
	}
}

func TestLoadAllowlistStrictRejectsEmptyTokens(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "allowlist.yaml", "routers: []\n")
	if _, err := LoadAllowlist(path, true); err == nil {
		t.Fatalf("strict mode must reject an empty token list")
	}
}
