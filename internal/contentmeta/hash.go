package contentmeta

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digests is the result of a single streaming pass over a file's bytes,
// computing both checksums the differ's signature pairing relies on.
type Digests struct {
	Size   int64
	MD5    string
	SHA256 string
}

// ComputeDigests streams fsPath once through io.MultiWriter so both MD5 and
// SHA256 are produced from a single read pass, generalizing the teacher's
// ComputeQuickXorHash (single-hash, single-pass streaming read) to the two
// digests this repo's signature calculator needs.
func ComputeDigests(fsPath string) (Digests, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return Digests{}, fmt.Errorf("contentmeta: opening %s for hashing: %w", fsPath, err)
	}
	defer f.Close()

	md5h := md5.New()
	sha256h := sha256.New()

	n, err := io.Copy(io.MultiWriter(md5h, sha256h), f)
	if err != nil {
		return Digests{}, fmt.Errorf("contentmeta: hashing %s: %w", fsPath, err)
	}

	return Digests{
		Size:   n,
		MD5:    hex.EncodeToString(md5h.Sum(nil)),
		SHA256: hex.EncodeToString(sha256h.Sum(nil)),
	}, nil
}
