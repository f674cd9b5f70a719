// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tiano

import (
	"bytes"
	"strings"
	"testing"
)

func TestEFIRoundTrip(t *testing.T) {
	orig := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40))
	compressed, err := Compress(EFI, orig)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(EFI, compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, orig) {
		t.Fatal("decompressed output does not match original input")
	}
}

func TestTianoRoundTrip(t *testing.T) {
	orig := []byte(strings.Repeat("AAAABBBBCCCCDDDDEEEEFFFFGGGGHHHH", 60))
	compressed, err := Compress(Tiano, orig)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(Tiano, compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, orig) {
		t.Fatal("decompressed output does not match original input")
	}
}

func TestRoundTripEmptyInput(t *testing.T) {
	compressed, err := Compress(EFI, nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(EFI, compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(got))
	}
}

func TestRoundTripSingleByte(t *testing.T) {
	orig := []byte{0x42}
	compressed, err := Compress(EFI, orig)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(EFI, compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, orig) {
		t.Fatal("decompressed output does not match original input")
	}
}

func TestDecompressRejectsShortHeader(t *testing.T) {
	if _, err := Decompress(EFI, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a buffer shorter than the size header")
	}
}
