// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func init() {
	// The erase polarity is a package-level global set on first use and
	// checked for conflicts thereafter. Tests in this package build volumes
	// under whichever polarity suits their fixture, so disable the conflict
	// check rather than depend on test execution order across files.
	SuppressErasePolarityError = true
}

func mustWriteFV(t *testing.T, buf *bytes.Buffer, v interface{}) {
	t.Helper()
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}
}

// writeFixedHeader encodes the 56-byte fixed header plus a single (1, 0x40)
// block and its (0, 0) terminator, matching the on-wire layout
// NewFirmwareVolume expects.
func writeFixedHeader(t *testing.T, buf *bytes.Buffer, length uint64, attributes uint32, headerLen uint16) {
	t.Helper()
	buf.Write(make([]byte, 16)) // reserved padding
	mustWriteFV(t, buf, FFS2)
	mustWriteFV(t, buf, length)
	buf.WriteString("_FVH")
	mustWriteFV(t, buf, attributes)
	mustWriteFV(t, buf, headerLen)
	mustWriteFV(t, buf, uint16(0)) // checksum
	mustWriteFV(t, buf, uint16(0)) // ext header offset
	buf.WriteByte(0)               // reserved
	buf.WriteByte(2)               // revision
	mustWriteFV(t, buf, Block{Count: 1, Size: 0x40})
	mustWriteFV(t, buf, Block{Count: 0, Size: 0})
}

func TestNewFirmwareVolumeMinimal(t *testing.T) {
	var buf bytes.Buffer
	writeFixedHeader(t, &buf, 0x48, 0, 0x48)

	data := buf.Bytes()
	if len(data) != 0x48 {
		t.Fatalf("fixture length = %#x, want 0x48", len(data))
	}

	fv, err := NewFirmwareVolume(data, 0, false)
	if err != nil {
		t.Fatalf("NewFirmwareVolume: %v", err)
	}
	if fv.FVType != "FFS2" {
		t.Fatalf("FVType = %q, want FFS2", fv.FVType)
	}
	if len(fv.Files) != 0 {
		t.Fatalf("expected no files in a header-only volume, got %d", len(fv.Files))
	}
	if fv.NVarStore != nil {
		t.Fatal("expected no NVAR store in an FFS2 volume")
	}
	if len(fv.Blocks) != 1 || fv.Blocks[0] != (Block{Count: 1, Size: 0x40}) {
		t.Fatalf("unexpected block map: %v", fv.Blocks)
	}
	if got := len(fv.Buf()); got != 0x48 {
		t.Fatalf("Buf() length = %#x, want 0x48", got)
	}
}

func TestNewFirmwareVolumeWithPaddingFile(t *testing.T) {
	if err := SetErasePolarity(0xFF); err != nil {
		t.Fatalf("SetErasePolarity: %v", err)
	}
	padFile, err := CreatePadFile(FileHeaderMinLength)
	if err != nil {
		t.Fatalf("CreatePadFile: %v", err)
	}

	// NewFirmwareVolume only attempts to parse a file header while the
	// cursor sits strictly before fv.Length-FileHeaderMinLength, so the
	// fixture needs one more file-header's worth of trailing room after the
	// pad file for the single-file case to actually be walked.
	const trailer = FileHeaderMinLength
	length := uint64(0x48) + uint64(len(padFile.Buf())) + trailer

	var buf bytes.Buffer
	writeFixedHeader(t, &buf, length, 0x800, 0x48)
	buf.Write(padFile.Buf())
	buf.Write(bytes.Repeat([]byte{0xFF}, trailer))

	fv, err := NewFirmwareVolume(buf.Bytes(), 0, false)
	if err != nil {
		t.Fatalf("NewFirmwareVolume: %v", err)
	}
	if len(fv.Files) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(fv.Files))
	}
	if fv.Files[0].Header.Type != FVFileTypePad {
		t.Fatalf("file type = %v, want pad", fv.Files[0].Header.Type)
	}
	if len(fv.Files[0].Sections) != 0 {
		t.Fatalf("expected no sections in a pad file, got %d", len(fv.Files[0].Sections))
	}
}

func TestNewFirmwareVolumeRejectsTooSmall(t *testing.T) {
	if _, err := NewFirmwareVolume(make([]byte, 8), 0, false); err == nil {
		t.Fatal("expected an error for a buffer smaller than FirmwareVolumeMinSize")
	}
}

func TestNewFirmwareVolumeUnsupportedFSGUIDSkipsBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 16))
	mustWriteFV(t, &buf, EVSA)
	mustWriteFV(t, &buf, uint64(0x48))
	buf.WriteString("_FVH")
	mustWriteFV(t, &buf, uint32(0))
	mustWriteFV(t, &buf, uint16(0x48))
	mustWriteFV(t, &buf, uint16(0))
	mustWriteFV(t, &buf, uint16(0))
	buf.WriteByte(0)
	buf.WriteByte(2)
	mustWriteFV(t, &buf, Block{Count: 1, Size: 0x40})
	mustWriteFV(t, &buf, Block{Count: 0, Size: 0})

	fv, err := NewFirmwareVolume(buf.Bytes(), 0, false)
	if err != nil {
		t.Fatalf("NewFirmwareVolume: %v", err)
	}
	if fv.Files != nil || fv.NVarStore != nil {
		t.Fatal("expected an unsupported FS GUID to leave Files and NVarStore unset")
	}
}
