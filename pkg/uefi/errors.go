// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the kinds a parse/build operation can fail with.
// Use errors.Is against these, not string comparison, since every
// constructor wraps one of them with contextual detail via %w.
var (
	// ErrInvalidHeader means a recognizer's magic/GUID/length checks failed.
	// The caller should treat this node as "not mine" and try the next
	// recognizer rather than aborting the whole parse.
	ErrInvalidHeader = errors.New("invalid header")

	// ErrTruncatedInput means a buffer was shorter than the structure it was
	// declared to hold.
	ErrTruncatedInput = errors.New("truncated input")

	// ErrMalformedChild means a child failed to parse but the parent can
	// still emit a useful, partially-populated result.
	ErrMalformedChild = errors.New("malformed child")

	// ErrDecompressionFailed means no codec in the candidate list for a
	// compressed/GUID-defined section succeeded.
	ErrDecompressionFailed = errors.New("decompression failed")

	// ErrDepthExceeded means recursion exceeded MaxDepth.
	ErrDepthExceeded = errors.New("maximum recursion depth exceeded")

	// ErrIoError means an output path could not be created or written during
	// extraction.
	ErrIoError = errors.New("io error")
)

// wrapf formats a message around one of the sentinel errors above so that
// fmt.Errorf's %w support and errors.Is both see through to it.
func wrapf(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
