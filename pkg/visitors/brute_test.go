// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"testing"

	"github.com/fwaudit/firmcore/pkg/uefi"
)

// bruteTestFirmware is a minimal uefi.Firmware wrapping a flat buffer, used
// to exercise Brute.Visit without needing a real parsed tree.
type bruteTestFirmware struct {
	buf []byte
}

func (f *bruteTestFirmware) Buf() []byte       { return f.buf }
func (f *bruteTestFirmware) SetBuf(buf []byte) { f.buf = buf }
func (f *bruteTestFirmware) Position() uint64  { return 0 }
func (f *bruteTestFirmware) Apply(v uefi.Visitor) error {
	return v.Visit(f)
}
func (f *bruteTestFirmware) ApplyChildren(v uefi.Visitor) error { return nil }

func TestBruteFindsHalfOffsetSignature(t *testing.T) {
	buf := make([]byte, 128)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf[56:60], []byte("_FVH")) // 56 = 16*3 + 8, the half-offset lattice
	b := &Brute{}
	if err := b.Visit(&bruteTestFirmware{buf: buf}); err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if len(b.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(b.Candidates))
	}
	if b.Candidates[0].SignatureOffset != 56 {
		t.Fatalf("expected signature offset 56, got %d", b.Candidates[0].SignatureOffset)
	}
	if b.Candidates[0].VolumeOffset != 16 {
		t.Fatalf("expected volume offset 16, got %d", b.Candidates[0].VolumeOffset)
	}
}

func TestBruteFindsAlignedSignature(t *testing.T) {
	buf := make([]byte, 96)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf[64:68], []byte("_FVH")) // 64 = 16*4, the 16-byte lattice
	b := &Brute{}
	if err := b.Visit(&bruteTestFirmware{buf: buf}); err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if len(b.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(b.Candidates))
	}
	if b.Candidates[0].VolumeOffset != 24 {
		t.Fatalf("expected volume offset 24, got %d", b.Candidates[0].VolumeOffset)
	}
}

func TestBruteFindsNothingInPlainBuffer(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xFF
	}
	b := &Brute{}
	if err := b.Visit(&bruteTestFirmware{buf: buf}); err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if len(b.Candidates) != 0 {
		t.Fatalf("expected no candidates, got %d", len(b.Candidates))
	}
}
