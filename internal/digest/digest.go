package digest

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// ChunkSize is the read size used when hashing files; memory use per hash
// is bounded by it regardless of file size.
const ChunkSize = 64 * 1024

// Algorithm names a content hash
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	MD5    Algorithm = "md5"
	XXHash Algorithm = "xxhash"
)

// Default is used when no algorithm is configured
const Default = SHA256

// Algorithms lists every supported algorithm
var Algorithms = []Algorithm{SHA256, MD5, XXHash}

// Parse validates an algorithm name. An empty name yields Default.
func Parse(name string) (Algorithm, error) {
	if name == "" {
		return Default, nil
	}
	for _, a := range Algorithms {
		if Algorithm(name) == a {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown hash algorithm: %s (must be sha256, md5, or xxhash)", name)
}

// New returns a fresh hash.Hash for the algorithm
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case XXHash:
		return xxhash.New()
	default:
		return sha256.New()
	}
}

// Reader hashes everything readable from r in ChunkSize reads
func (a Algorithm) Reader(r io.Reader) (string, error) {
	h := a.New()
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File computes the hex digest of the file at path
func (a Algorithm) File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	return a.Reader(f)
}

// String implements fmt.Stringer
func (a Algorithm) String() string {
	return string(a)
}
