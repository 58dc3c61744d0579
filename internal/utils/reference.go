package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const referenceCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateReference generates a unique reference for manual wallet postings,
// e.g. ADJ_20261016_7QK2M9XA
func GenerateReference(prefix string) string {
	result := make([]byte, 8)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referenceCharset))))
		if err != nil {
			n = big.NewInt(time.Now().UnixNano() % int64(len(referenceCharset)))
		}
		result[i] = referenceCharset[n.Int64()]
	}

	timestamp := time.Now().UTC().Format("20060102")
	return fmt.Sprintf("%s_%s_%s", prefix, timestamp, string(result))
}
