// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"testing"
)

func TestCreatePadFileRejectsTooSmall(t *testing.T) {
	if _, err := CreatePadFile(1); err == nil {
		t.Fatal("expected an error for a size smaller than the minimum file header")
	}
}

func TestCreatePadFileRoundTrip(t *testing.T) {
	if err := SetErasePolarity(0xFF); err != nil {
		t.Fatalf("SetErasePolarity: %v", err)
	}
	const size = 0x100
	f, err := CreatePadFile(size)
	if err != nil {
		t.Fatalf("CreatePadFile: %v", err)
	}
	if uint64(len(f.Buf())) != size {
		t.Fatalf("expected a %#x byte file, got %#x", size, len(f.Buf()))
	}
	if f.Header.Type != FVFileTypePad {
		t.Fatalf("expected a pad file type, got %v", f.Header.Type)
	}

	got, err := NewFile(f.Buf())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if !bytes.Equal(got.Buf(), f.Buf()) {
		t.Fatal("round-tripped file bytes do not match the original")
	}
	if sum := got.ChecksumHeader(); sum != 0 {
		t.Fatalf("expected header checksum of 0, got %v", sum)
	}
}

func TestAlign8(t *testing.T) {
	cases := map[uint64]uint64{
		0:  0,
		1:  8,
		7:  8,
		8:  8,
		9:  16,
		16: 16,
	}
	for in, want := range cases {
		if got := Align8(in); got != want {
			t.Errorf("Align8(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRead3SizeAndWrite3Size(t *testing.T) {
	want := uint64(0x123456)
	b := Write3Size(want)
	if got := Read3Size(b); got != want {
		t.Fatalf("Read3Size(Write3Size(%#x)) = %#x, want %#x", want, got, want)
	}
}

func TestWrite3SizeSaturates(t *testing.T) {
	b := Write3Size(0xFFFFFFFF)
	if b != [3]uint8{0xFF, 0xFF, 0xFF} {
		t.Fatalf("expected saturated 0xFFFFFF, got %v", b)
	}
}

func TestChecksum16RejectsOddLength(t *testing.T) {
	if _, err := Checksum16([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for an odd-length buffer")
	}
}

func TestChecksum16ZeroesOut(t *testing.T) {
	buf := []byte{0x01, 0x00, 0xFF, 0xFF}
	sum, err := Checksum16(buf)
	if err != nil {
		t.Fatalf("Checksum16: %v", err)
	}
	if sum != 0 {
		t.Fatalf("expected checksum 0, got %#x", sum)
	}
}

func TestIsErased(t *testing.T) {
	if !IsErased(bytes.Repeat([]byte{0xFF}, 16), 0xFF) {
		t.Fatal("expected an all-0xFF buffer to be erased under 0xFF polarity")
	}
	if IsErased([]byte{0xFF, 0x00, 0xFF}, 0xFF) {
		t.Fatal("expected a buffer with a non-matching byte to not be erased")
	}
}
