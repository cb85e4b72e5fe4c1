package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "near-ledger.yaml")
	contents := []byte(`
account: alice.near
rpc:
  endpoint: https://rpc.testnet.near.org
  timeout: 10s
staking:
  epoch_length: 43200
history_path: /data/alice.json
target_count: 500
`)
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Account != "alice.near" {
		t.Fatalf("got account %q", cfg.Account)
	}
	if cfg.RPC.Endpoint != "https://rpc.testnet.near.org" {
		t.Fatalf("got endpoint %q", cfg.RPC.Endpoint)
	}
	if cfg.RPC.Timeout != 10*time.Second {
		t.Fatalf("got timeout %v", cfg.RPC.Timeout)
	}
	if cfg.HistoryPath != "/data/alice.json" {
		t.Fatalf("got history path %q", cfg.HistoryPath)
	}
	if cfg.TargetCount != 500 {
		t.Fatalf("got target count %d", cfg.TargetCount)
	}
	// Hints was never set: defaults should apply.
	if cfg.Hints.Timeout != defaultHintTimeout {
		t.Fatalf("got hints timeout %v", cfg.Hints.Timeout)
	}
}

func TestLoadFallsBackToEnvWhenNoFile(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "bob.near")
	t.Setenv("RPC_ENDPOINT", "http://localhost:3030")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Account != "bob.near" {
		t.Fatalf("got account %q", cfg.Account)
	}
	if cfg.RPC.Endpoint != "http://localhost:3030" {
		t.Fatalf("got endpoint %q", cfg.RPC.Endpoint)
	}
	if cfg.Staking.EpochLength != defaultEpochLength {
		t.Fatalf("got epoch length %d", cfg.Staking.EpochLength)
	}
}

func TestLoadRequiresAccount(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error when no account is configured")
	}
}

func TestLoadFileValuesWinOverEnv(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "env-account.near")
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("account: file-account.near\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Account != "file-account.near" {
		t.Fatalf("got account %q", cfg.Account)
	}
}
