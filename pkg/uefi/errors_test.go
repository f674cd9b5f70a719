// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"errors"
	"testing"
)

func TestWrapfPreservesSentinel(t *testing.T) {
	err := wrapf(ErrInvalidHeader, "file %s", "foo.bin")
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected errors.Is to match ErrInvalidHeader, got %v", err)
	}
	if errors.Is(err, ErrTruncatedInput) {
		t.Fatal("did not expect the wrapped error to match an unrelated sentinel")
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidHeader,
		ErrTruncatedInput,
		ErrMalformedChild,
		ErrDecompressionFailed,
		ErrDepthExceeded,
		ErrIoError,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Fatalf("sentinel %v should not match sentinel %v", a, b)
			}
		}
	}
}
