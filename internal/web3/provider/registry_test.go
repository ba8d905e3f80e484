package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeChains(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}
	return path
}

func TestRegistrySelectsDefaultChain(t *testing.T) {
	path := writeChains(t, `default: beta
chains:
  alpha:
    rpc_url: http://127.0.0.1:18545
  beta:
    rpc_url: http://127.0.0.1:28545
    confirmations: 4
`)
	registry, err := NewRegistry(context.Background(), Config{ChainFile: path})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(registry.Close)

	client, err := registry.DefaultClient()
	if err != nil {
		t.Fatalf("default client: %v", err)
	}
	if client.Name() != "beta" || client.Confirmations() != 4 {
		t.Fatalf("unexpected default client %s/%d", client.Name(), client.Confirmations())
	}
	if got := registry.Chains(); len(got) != 2 || got[0] != "alpha" {
		t.Fatalf("unexpected chains %v", got)
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	registry, err := NewRegistry(context.Background(), Config{RPCURL: "http://127.0.0.1:8545"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(registry.Close)
	if _, ok := registry.Client("default"); !ok {
		t.Fatalf("expected default client")
	}
}

func TestRegistryErrors(t *testing.T) {
	if _, err := NewRegistry(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without endpoints")
	}
	path := writeChains(t, "chains:\n  alpha:\n    rpc_url: http://127.0.0.1:18545\n")
	if _, err := NewRegistry(context.Background(), Config{ChainFile: path, DefaultChain: "missing"}); err == nil {
		t.Fatalf("expected error for unknown default chain")
	}
	path = writeChains(t, "chains:\n  sol:\n    type: solana\n    rpc_url: http://127.0.0.1:8899\n")
	if _, err := NewRegistry(context.Background(), Config{ChainFile: path}); err == nil {
		t.Fatalf("expected error for unsupported chain type")
	}
}
