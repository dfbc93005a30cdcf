package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const redactedPlaceholder = "<redacted>"

// MarshalEffective returns the effective configuration rendered in the requested format
// after redacting sensitive fields.
func (c *Config) MarshalEffective(format string) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil config")
	}
	sanitized := c.redactedClone()
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "yaml", "yml":
		return yaml.Marshal(&sanitized)
	case "json":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(&sanitized); err != nil {
			return nil, err
		}
		return bytes.TrimRight(buf.Bytes(), "\n"), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func (c *Config) redactedClone() Config {
	if c == nil {
		return Config{}
	}
	clone := *c
	if clone.AuthToken != "" {
		clone.AuthToken = redactedPlaceholder
	}
	if clone.Vault.Token != "" {
		clone.Vault.Token = redactedPlaceholder
	}
	if clone.AzureBlob.ConnectionString != "" {
		clone.AzureBlob.ConnectionString = redactedPlaceholder
	}
	if clone.LogAnalytics.SharedKey != "" {
		clone.LogAnalytics.SharedKey = redactedPlaceholder
	}
	return clone
}
