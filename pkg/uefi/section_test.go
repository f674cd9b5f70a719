// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/fwaudit/firmcore/pkg/compression"
	"github.com/fwaudit/firmcore/pkg/tiano"
)

func mustWriteSec(t *testing.T, buf *bytes.Buffer, v interface{}) {
	t.Helper()
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}
}

// buildRawSection produces the full binary encoding (header + payload) of a
// single EFI_SECTION_RAW section, via the package's own constructors rather
// than hand-assembled bytes.
func buildRawSection(t *testing.T, payload []byte) []byte {
	t.Helper()
	s, err := CreateSection(SectionTypeRaw, payload, nil, nil)
	if err != nil {
		t.Fatalf("CreateSection: %v", err)
	}
	if err := s.GenSecHeader(); err != nil {
		t.Fatalf("GenSecHeader: %v", err)
	}
	return s.Buf()
}

// TestNewSectionCompressionTagAmbiguity covers a tag-0x01 Compression
// section whose payload was produced by the Tiano variant. Tag 0x01 doesn't
// name EFI or Tiano, so decompressCompressionPayload must try both and land
// on the one that actually decodes: the Tiano encoder writes the
// match-offset table's symbol count in one more bit than EFI's, so feeding
// its bitstream through the EFI reader desyncs the offset table immediately and
// runs the reader past the end of input well before EFI's decode claims
// `uncompressedSize` bytes.
func TestNewSectionCompressionTagAmbiguity(t *testing.T) {
	inner := buildRawSection(t, bytes.Repeat([]byte("tiano-ambiguity-payload "), 8))

	encoded, err := (&compression.SizedTiano{Variant: tiano.Tiano, Size: len(inner)}).Encode(inner)
	if err != nil {
		t.Fatalf("Tiano Encode: %v", err)
	}

	var typeSpecific bytes.Buffer
	mustWriteSec(t, &typeSpecific, uint32(len(inner)))
	mustWriteSec(t, &typeSpecific, CompressionTagStandard)
	typeSpecific.Write(encoded)

	total := uint64(SectionMinLength) + uint64(typeSpecific.Len())
	var buf bytes.Buffer
	mustWriteSec(t, &buf, SectionHeader{Size: Write3Size(total), Type: SectionTypeCompression})
	buf.Write(typeSpecific.Bytes())

	s, err := NewSection(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("NewSection: %v", err)
	}
	cs, ok := s.TypeSpecific.Header.(*CompressedSection)
	if !ok {
		t.Fatalf("TypeSpecific.Header has type %T, want *CompressedSection", s.TypeSpecific.Header)
	}
	if cs.Compression != "TIANO" {
		t.Fatalf("resolved codec = %q, want TIANO", cs.Compression)
	}
	if len(s.Encapsulated) != 1 {
		t.Fatalf("expected one encapsulated section, got %d", len(s.Encapsulated))
	}
	encap, ok := s.Encapsulated[0].Value.(*Section)
	if !ok {
		t.Fatalf("encapsulated child has type %T, want *Section", s.Encapsulated[0].Value)
	}
	if !bytes.Equal(encap.Buf(), inner) {
		t.Fatal("decompressed payload did not round-trip back to the original raw section bytes")
	}
}

// TestNewSectionGUIDDefinedDecompressesNestedVolume covers the
// EFI_SECTION_GUID_DEFINED dispatch for a GUID that requires processing:
// the payload is an embedded-size-header Tiano stream (as the format's
// TianoGUID marker implies) whose decompressed form is a single
// EFI_SECTION_FIRMWARE_VOLUME_IMAGE section wrapping a minimal volume. This
// exercises the same CompressorFromGUID dispatch LZMAGUID would, without
// depending on whether a system `xz` binary is on the test machine's PATH.
func TestNewSectionGUIDDefinedDecompressesNestedVolume(t *testing.T) {
	var fvBuf bytes.Buffer
	writeFixedHeader(t, &fvBuf, 0x48, 0, 0x48)

	fvImage, err := CreateSection(SectionTypeFirmwareVolumeImage, fvBuf.Bytes(), nil, nil)
	if err != nil {
		t.Fatalf("CreateSection: %v", err)
	}
	if err := fvImage.GenSecHeader(); err != nil {
		t.Fatalf("GenSecHeader: %v", err)
	}
	plaintext := fvImage.Buf()

	encoded, err := (&compression.TianoEFI{}).Encode(plaintext)
	if err != nil {
		t.Fatalf("TianoEFI Encode: %v", err)
	}

	const guidHeaderLen = 20 // GUID(16) + DataOffset(2) + Attributes(2)
	dataOffset := uint16(SectionMinLength + guidHeaderLen)
	total := uint64(dataOffset) + uint64(len(encoded))

	var buf bytes.Buffer
	mustWriteSec(t, &buf, SectionHeader{Size: Write3Size(total), Type: SectionTypeGUIDDefined})
	mustWriteSec(t, &buf, SectionGUIDDefinedHeader{
		GUID:       compression.TianoGUID,
		DataOffset: dataOffset,
		Attributes: uint16(GUIDEDSectionProcessingRequired),
	})
	buf.Write(encoded)

	s, err := NewSection(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("NewSection: %v", err)
	}
	gd, ok := s.TypeSpecific.Header.(*SectionGUIDDefined)
	if !ok {
		t.Fatalf("TypeSpecific.Header has type %T, want *SectionGUIDDefined", s.TypeSpecific.Header)
	}
	if gd.Compression != "EFI_STANDARD" {
		t.Fatalf("resolved codec = %q, want EFI_STANDARD", gd.Compression)
	}
	if len(s.Encapsulated) != 1 {
		t.Fatalf("expected one encapsulated section, got %d", len(s.Encapsulated))
	}
	inner, ok := s.Encapsulated[0].Value.(*Section)
	if !ok || inner.Header.Type != SectionTypeFirmwareVolumeImage {
		t.Fatalf("encapsulated child = %#v, want a firmware-volume-image section", s.Encapsulated[0].Value)
	}
	if len(inner.Encapsulated) != 1 {
		t.Fatalf("expected the volume-image section to wrap one volume, got %d", len(inner.Encapsulated))
	}
	fv, ok := inner.Encapsulated[0].Value.(*FirmwareVolume)
	if !ok {
		t.Fatalf("nested firmware has type %T, want *FirmwareVolume", inner.Encapsulated[0].Value)
	}
	if fv.FVType != "FFS2" {
		t.Fatalf("nested volume FVType = %q, want FFS2", fv.FVType)
	}
}

func TestNewSectionUserInterface(t *testing.T) {
	// UCS2 "hi", with no trailing NUL: UCS2ToUTF8 documents that the caller
	// strips the terminator first, but NewSection hands it the section's
	// entire remaining buffer, so a fixture carrying one would decode to
	// "hi\x00" instead of "hi".
	name := []byte{'h', 0, 'i', 0}
	var buf bytes.Buffer
	mustWriteSec(t, &buf, SectionHeader{Size: Write3Size(uint64(SectionMinLength + len(name))), Type: SectionTypeUserInterface})
	buf.Write(name)

	got, err := NewSection(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("NewSection: %v", err)
	}
	if got.Name != "hi" {
		t.Fatalf("Name = %q, want hi", got.Name)
	}
}
