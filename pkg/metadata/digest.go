package metadata

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"wrrouting/pkg/encoding/tlv"
)

// Digest is a content hash of the canonical binary form, used as an ETag.
// Equal weights always produce equal digests.
func Digest(w Weights) (uint64, error) {
	body, err := encodeWeightedRouting(NewWeightedRouting(w))
	if err != nil {
		return 0, err
	}
	data, err := tlv.Encode(body)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

// ETag formats a digest as a quoted entity tag.
func ETag(digest uint64) string {
	return strconv.Quote(strconv.FormatUint(digest, 16))
}
