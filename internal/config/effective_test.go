package config

import (
	"strings"
	"testing"
)

func TestMarshalEffectiveRedactsSecrets(t *testing.T) {
	cfg := &Config{Producers: 1, Consumers: 1, Capacity: 5, TimeoutSeconds: 10}
	cfg.AuthToken = "super-secret"
	cfg.Vault.Token = "vault-token"
	cfg.AzureBlob.ConnectionString = "conn-string"
	cfg.LogAnalytics.SharedKey = "shared-key"

	out, err := cfg.MarshalEffective("json")
	if err != nil {
		t.Fatalf("MarshalEffective json: %v", err)
	}
	payload := string(out)
	for _, leak := range []string{"super-secret", "vault-token", "conn-string", "shared-key"} {
		if strings.Contains(payload, leak) {
			t.Fatalf("expected %q to be redacted in %s", leak, payload)
		}
	}
	if !strings.Contains(payload, redactedPlaceholder) {
		t.Fatalf("expected placeholder to appear: %s", payload)
	}

	if _, err := cfg.MarshalEffective("yaml"); err != nil {
		t.Fatalf("MarshalEffective yaml: %v", err)
	}

	if _, err := cfg.MarshalEffective("invalid"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
