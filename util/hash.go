package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// GenerateNodeID creates a deterministic ID for a method from the file that
// declares it and its class-qualified signature. Phantom methods have no
// file, so their signature alone identifies them.
func GenerateNodeID(filePath, signature string) string {
	hash := sha256.Sum256([]byte(filePath + ":" + signature))
	return hex.EncodeToString(hash[:])
}
