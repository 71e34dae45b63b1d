package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Hash returns the murmur3 hash value of data.
func Hash(data []byte) uint64 {
	return murmur3.Sum64(data)
}

// ContentHash returns the hex SHA-256 of data. It is the stable identifier of
// an uploaded image across analyses.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func FastHash(s string) []byte {
	h := xxhash.Sum64String(s)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, h)
	return buf
}
