// audit/checksum.go
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const checksumField = "integrity_checksum"

// canonicalBytes renders the entry as JSON with recursively sorted keys and
// the checksum field removed. encoding/json sorts map keys, so a
// marshal/unmarshal/marshal round trip yields a stable byte sequence
// independent of struct field order.
func canonicalBytes(entry *Entry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("failed to canonicalize audit entry: %w", err)
	}
	delete(asMap, checksumField)
	return json.Marshal(asMap)
}

// computeChecksum returns the hex HMAC-SHA256 of the entry's canonical
// serialization under the log's secret key.
func computeChecksum(secret []byte, entry *Entry) (string, error) {
	canonical, err := canonicalBytes(entry)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// checksumMatches recomputes the entry's checksum and compares it against
// the stored value in constant time.
func checksumMatches(secret []byte, entry *Entry) (bool, error) {
	expected, err := computeChecksum(secret, entry)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(entry.Checksum)), nil
}
