// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"testing"

	"github.com/fwaudit/firmcore/pkg/guid"
	"github.com/fwaudit/firmcore/pkg/tiano"
)

func sampleData() []byte {
	var b bytes.Buffer
	for i := 0; i < 8192; i++ {
		b.WriteByte(byte((i * 7) % 256))
	}
	return b.Bytes()
}

func TestEncodeDecode(t *testing.T) {
	want := sampleData()
	tests := []struct {
		name       string
		compressor Compressor
	}{
		{"LZMA", &LZMA{}},
		{"LZMAX86", &LZMAX86{&LZMA{}}},
		{"ZLIB", &ZLIB{}},
		{"LZ4", &LZ4{}},
		{"EFI", &TianoEFI{}},
		{"TIANO", &TianoCompress{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.compressor.Encode(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := tt.compressor.Decode(encoded)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("decompressed image did not match, (got: %d bytes, want: %d bytes)", len(got), len(want))
			}
		})
	}
}

func TestCompressorFromGUID(t *testing.T) {
	want := sampleData()
	tests := []struct {
		name string
		guid *guid.GUID
	}{
		{"lzma", &LZMAGUID},
		{"lzma x86", &LZMAX86GUID},
		{"zlib", &ZLIBGUID},
		{"tiano", &TianoGUID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressor := CompressorFromGUID(tt.guid)
			if compressor == nil {
				t.Fatalf("no compressor registered for guid %v", tt.guid)
			}
			encoded, err := compressor.Encode(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := compressor.Decode(encoded)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("decompressed image did not match, (got: %d bytes, want: %d bytes)", len(got), len(want))
			}
		})
	}
}

func TestCompressorFromGUIDUnknown(t *testing.T) {
	unknown := guid.MustParse("00000000-0000-0000-0000-000000000000")
	if c := CompressorFromGUID(unknown); c != nil {
		t.Fatalf("expected nil compressor for unknown guid, got %v", c)
	}
}

func TestSizedTianoRoundTrip(t *testing.T) {
	want := sampleData()
	for _, variant := range []string{"EFI", "TIANO"} {
		t.Run(variant, func(t *testing.T) {
			c := &TianoEFI{}
			var full Compressor = c
			if variant == "TIANO" {
				full = &TianoCompress{}
			}
			encoded, err := full.Encode(want)
			if err != nil {
				t.Fatal(err)
			}
			sized := &SizedTiano{Size: len(want)}
			if variant == "TIANO" {
				sized.Variant = tiano.Tiano
			}
			// SizedTiano expects the 8-byte size header stripped off.
			sizedEncoded, err := sized.Encode(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := sized.Decode(sizedEncoded)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("decompressed image did not match, (got: %d bytes, want: %d bytes)", len(got), len(want))
			}
			if _, err := full.Decode(encoded); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestTryDecompress(t *testing.T) {
	want := sampleData()
	encoded, err := (&TianoCompress{}).Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	// LZMA is a safe "wrong codec" decoy: its own header validation rejects
	// an arbitrary Tiano bitstream well before it could coincidentally
	// produce matching output.
	candidates := []Compressor{&LZMA{}, &TianoCompress{}}
	idx, got, ok := TryDecompress(candidates, encoded)
	if !ok {
		t.Fatal("expected a candidate to succeed")
	}
	if idx != 1 {
		t.Fatalf("expected TianoCompress (index 1) to succeed, got index %d", idx)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("decompressed image did not match, (got: %d bytes, want: %d bytes)", len(got), len(want))
	}
}
