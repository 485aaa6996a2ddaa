package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/Granola-Team/mina-indexer-sub000/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Network.Name != "mainnet" {
		t.Fatalf("unexpected network name: %s", AppConfig.Network.Name)
	}
	if AppConfig.Indexer.CanonicalThreshold != 10 {
		t.Fatalf("expected canonical threshold 10, got %d", AppConfig.Indexer.CanonicalThreshold)
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("network:\n  name: sandbox\nindexer:\n  ledger_cadence: 42\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Network.Name != "sandbox" {
		t.Fatalf("expected network name sandbox, got %s", AppConfig.Network.Name)
	}
	if AppConfig.Indexer.LedgerCadence != 42 {
		t.Fatalf("expected ledger cadence 42, got %d", AppConfig.Indexer.LedgerCadence)
	}
}
