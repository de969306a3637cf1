package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	fingerprintSeparator = "\x1f"
	missingField         = "None"
)

// Fingerprint hashes the values of fields, in order, into a hex SHA-256
// digest. A field absent from m contributes "None".
func Fingerprint(m *Metadata, fields []string) string {
	values := make([]string, len(fields))
	for i, f := range fields {
		v, ok := m.Get(f)
		if !ok {
			v = missingField
		}
		values[i] = v
	}
	sum := sha256.Sum256([]byte(strings.Join(values, fingerprintSeparator)))
	return hex.EncodeToString(sum[:])
}

func normalizeColumns(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}
