// Copyright (c) 2026, The Indy Authors.
// See LICENSE for licensing information.

package name

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Hashed names are base64-encoded. JVM method names may not contain
// '.', ';', '[', '/', '<' or '>', so the URL encoding is safe once '-' is
// replaced by '$', which already separates accessor names. The alphabet must
// not repeat a symbol; we never decode hashes, but NewEncoding panics on
// duplicates.
var nameBase64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_$")

// hashLength is the number of base64 characters kept from the hash.
// Accessor names only need to be unique within one class, and even a class
// with a thousand wrapped fields has a collision chance of about one in a
// hundred million at 48 bits. The taken check covers the rest.
const hashLength = 8

type hashGenerator struct {
	seed []byte
}

// NewHashGenerator returns a generator deriving each name from a hash of the
// seed and the access it wraps. Given the same seed, the output is
// reproducible.
func NewHashGenerator(seed []byte) Generator {
	return &hashGenerator{seed: seed}
}

func (h *hashGenerator) AccessorName(info *AccessorInfo, taken func(string) bool) string {
	for try := 0; ; try++ {
		newName := info.Field + "$" + h.hash(info, try)
		if taken == nil || !taken(newName) {
			return newName
		}
	}
}

func (h *hashGenerator) hash(info *AccessorInfo, try int) string {
	var sumBuffer [sha256.Size]byte
	var b64SumBuffer [44]byte // base64's EncodedLen on a sha256 sum

	hasher := sha256.New()
	hasher.Write(h.seed)
	io.WriteString(hasher, info.key())
	if try > 0 {
		fmt.Fprintf(hasher, "\x00%d", try)
	}
	nameBase64.Encode(b64SumBuffer[:], hasher.Sum(sumBuffer[:0]))
	return string(b64SumBuffer[:hashLength])
}
