package core

import "errors"

// ErrBlobNotFound is returned by VCS.BlobHash and VCS.ReadBlob when the path
// does not exist at the requested revision. It is an expected condition for
// fileserver backends, not a failure.
var ErrBlobNotFound = errors.New("blob not found at revision")
