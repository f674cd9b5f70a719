// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lzma

import (
	"bytes"
	"testing"
)

func sampleData() []byte {
	var b bytes.Buffer
	for i := 0; i < 4096; i++ {
		b.WriteByte(byte(i % 251))
	}
	return b.Bytes()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleData()

	encoded, err := Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("decompressed image did not match, (got: %d bytes, want: %d bytes)", len(got), len(want))
	}
}

func TestDecodeEmpty(t *testing.T) {
	encoded, err := Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(got))
	}
}
