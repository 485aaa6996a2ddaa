package utils

import (
	"os"
	"testing"
)

func BenchmarkEnvOrDefault(b *testing.B) {
	const key = "MINA_INDEXER_SOCKET"
	os.Setenv(key, "/tmp/mina-indexer.sock")
	clearEnvCache(key)
	// warm cache
	EnvOrDefault(key, "/var/run/mina-indexer.sock")
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EnvOrDefault(key, "/var/run/mina-indexer.sock")
	}
}

func BenchmarkEnvOrDefaultInt(b *testing.B) {
	const key = "MINA_INDEXER_CANONICAL_THRESHOLD"
	os.Setenv(key, "10")
	clearEnvCache(key)
	EnvOrDefaultInt(key, 0)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EnvOrDefaultInt(key, 0)
	}
}

func BenchmarkEnvOrDefaultUint64(b *testing.B) {
	const key = "MINA_INDEXER_LEDGER_CADENCE"
	os.Setenv(key, "100")
	clearEnvCache(key)
	EnvOrDefaultUint64(key, 0)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EnvOrDefaultUint64(key, 0)
	}
}
