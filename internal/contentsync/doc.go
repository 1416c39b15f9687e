// Package contentsync keeps a single file in a GitHub repository in sync with
// a desired content.
//
// The Publisher retrieves the file from the base branch and compares its
// digest with the digest of the desired content. When they differ, a new
// branch is created from the head of the base branch, the file is replaced on
// the new branch and a pull request from the new branch into the base branch
// is opened.
//
// If the path does not refer to a regular file or the content is unchanged,
// Sync returns successfully without changing anything.
//
// Remote operations are run strictly sequentially. A branch that was created
// is not removed when a later step fails.
//
// Change Detection
//
// Both digests are always computed with the same algorithm. With
// ChangeDetectionGitBlob the git blob object id of the desired content is
// compared to the blob SHA reported by GitHub, the existing content is not
// decoded. ChangeDetectionContentSHA1 compares the SHA-1 digests of the
// retrieved and the desired content, files too large to be returned by the
// contents API are retrieved as raw git blobs.
//
// Templates
//
// The commit message and the pull request title and body are text/template
// strings. The desired content is written verbatim unless
// WithContentTemplate is passed to NewJob.
package contentsync
