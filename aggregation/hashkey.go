package aggregation

import (
	"crypto/md5"
	"hash"
	"math/big"
	"regexp"
)

// MaxHashKey is the largest valid explicit hash key, 2^128 - 1.
var MaxHashKey = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

var decimalPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// HashKey calculates the hash key Kinesis derives from a partition key: the
// md5 digest of the key read as an unsigned big-endian 128 bit integer.
func HashKey(partitionKey string) *big.Int {
	return digestHashKey(md5.New, partitionKey)
}

func digestHashKey(newHash func() hash.Hash, partitionKey string) *big.Int {
	h := newHash()
	h.Write([]byte(partitionKey))
	sum := h.Sum(nil)
	// keep the result inside the 128 bit hash key space whatever the digest width
	if len(sum) > md5.Size {
		sum = sum[:md5.Size]
	}
	return new(big.Int).SetBytes(sum)
}

// ParseHashKey parses a canonical base-10 explicit hash key and checks that
// it is in [0, 2^128-1].
func ParseHashKey(s string) (*big.Int, bool) {
	if !decimalPattern.MatchString(s) {
		return nil, false
	}
	hk, ok := new(big.Int).SetString(s, 10)
	if !ok || hk.Cmp(MaxHashKey) > 0 {
		return nil, false
	}
	return hk, true
}
