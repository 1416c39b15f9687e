package contentsync

import (
	"crypto/sha1" //nolint:gosec // used for change detection, not for security
	"encoding/hex"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/simplesurance/contentsync/internal/githubclt"
)

// ChangeDetection defines how the existing and the desired file content are
// compared.
type ChangeDetection string

const (
	// ChangeDetectionGitBlob compares the git blob object id of the
	// desired content with the blob SHA reported by GitHub.
	ChangeDetectionGitBlob ChangeDetection = "git-blob"
	// ChangeDetectionContentSHA1 compares SHA-1 digests of the existing
	// and desired file content.
	ChangeDetectionContentSHA1 ChangeDetection = "content-sha1"
)

// ParseChangeDetection converts a string to a ChangeDetection value.
// An empty string results in ChangeDetectionGitBlob.
func ParseChangeDetection(s string) (ChangeDetection, error) {
	switch ChangeDetection(s) {
	case "", ChangeDetectionGitBlob:
		return ChangeDetectionGitBlob, nil
	case ChangeDetectionContentSHA1:
		return ChangeDetectionContentSHA1, nil
	default:
		return "", fmt.Errorf("unsupported change detection mode: %q, supported: %q, %q",
			s, ChangeDetectionGitBlob, ChangeDetectionContentSHA1)
	}
}

// GitBlobSHA1 returns the hex encoded git object id of a blob with content.
func GitBlobSHA1(content []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, content).String()
}

// SHA1 returns the hex encoded SHA-1 digest of content.
func SHA1(content []byte) string {
	sum := sha1.Sum(content) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// needsContent returns true if the digest of the existing file is computed
// from its content instead of the blob SHA reported by GitHub.
func (c ChangeDetection) needsContent() bool {
	return c == ChangeDetectionContentSHA1
}

// digests returns the digest of the existing file and of the desired content.
func (c ChangeDetection) digests(existing *githubclt.File, desired []byte) (existingDigest, desiredDigest string, err error) {
	switch c {
	case ChangeDetectionGitBlob:
		return existing.SHA, GitBlobSHA1(desired), nil
	case ChangeDetectionContentSHA1:
		return SHA1(existing.Content), SHA1(desired), nil
	default:
		return "", "", fmt.Errorf("unsupported change detection mode: %q", c)
	}
}
