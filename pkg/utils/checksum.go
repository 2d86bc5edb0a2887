package utils

import (
	"crypto/sha1"
	"encoding/hex"
)

// CreateChecksum hashes an arbitrary work payload or reinit program, used by
// the demo worker/client to log a short fingerprint without echoing the
// whole payload.
func CreateChecksum(data []byte) string {
	hasher := sha1.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}
