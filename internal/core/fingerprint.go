package core

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strconv"
)

// fingerprintBlock is the read size used while hashing files.
const fingerprintBlock = 1 << 20

// Fingerprint identifies a job's input for idempotency. A non-empty caller
// key is used verbatim; otherwise the file's SHA-256 is returned as hex.
func Fingerprint(path, key string) (string, error) {
	if key != "" {
		return key, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", NewValidationError("cannot open file: %v", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, fingerprintBlock)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", NewValidationError("cannot read file: %v", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LockKey derives the advisory lock key for a fingerprint: its first 16 hex
// digits, masked to a non-negative int64. Fingerprints that are not hex
// (caller keys) are hashed first.
func LockKey(fp string) int64 {
	if len(fp) < 16 || !isHex(fp[:16]) {
		sum := sha256.Sum256([]byte(fp))
		fp = hex.EncodeToString(sum[:])
	}
	v, _ := strconv.ParseUint(fp[:16], 16, 64)
	return int64(v & 0x7fffffffffffffff)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
