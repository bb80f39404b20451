package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
)

// NoConfigHash is the hash of an absent configuration.
const NoConfigHash = "nothing"

// ConfigHash returns the hex SHA-256 of the configuration's canonical JSON
// rendering, or NoConfigHash when cfg is nil or has no type.
//
// The rendering is fixed: keys in the order type, host_name,
// shared_access_key_name, shared_access_key, auth_method, region, separated
// by ", " and ": ", non-ASCII escaped as \uXXXX, empty fields as null.
// Devices compute the same digest, so the format must not change.
func ConfigHash(cfg *Configuration) string {
	if cfg == nil || cfg.Type == "" {
		return NoConfigHash
	}
	sum := sha256.Sum256([]byte(canonicalJSON(cfg)))
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(cfg *Configuration) string {
	fields := []struct {
		key, value string
	}{
		{"type", cfg.Type},
		{"host_name", cfg.HostName},
		{"shared_access_key_name", cfg.SharedAccessKeyName},
		{"shared_access_key", cfg.SharedAccessKey},
		{"auth_method", cfg.AuthMethod},
		{"region", cfg.Region},
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		writeJSONString(&b, f.key)
		b.WriteString(": ")
		if f.value == "" {
			b.WriteString("null")
		} else {
			writeJSONString(&b, f.value)
		}
	}
	b.WriteByte('}')
	return b.String()
}

// writeJSONString writes s as an ASCII-only JSON string.
func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r < 0x20 || (r >= 0x7f && r <= 0xffff):
			fmt.Fprintf(b, `\u%04x`, r)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
