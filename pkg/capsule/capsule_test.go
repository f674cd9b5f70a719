// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capsule

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/fwaudit/firmcore/pkg/guid"
)

func TestMatch(t *testing.T) {
	if Match(bytes.Repeat([]byte{0xFF}, 32)) {
		t.Fatal("expected Match to reject an unrecognized GUID")
	}
	var buf bytes.Buffer
	buf.Write(EFICapsuleGUID[:])
	buf.Write(make([]byte, 64))
	if !Match(buf.Bytes()) {
		t.Fatal("expected Match to accept a buffer opening with a known capsule GUID")
	}
}

func TestNewEFICapsule(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EFICapsuleGUID[:])
	f := efiCapsuleFields{
		Size:                64 + 16 + 32,
		Flags:               0x10000,
		ImageSize:           4096,
		SequenceNumber:      1,
		OffsetToCapsuleBody: 0,
	}
	if err := binary.Write(&buf, binary.LittleEndian, &f); err != nil {
		t.Fatal(err)
	}
	buf.Write(make([]byte, 256))

	c, err := New(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Kind != KindEFI {
		t.Fatalf("expected KindEFI, got %v", c.Kind)
	}
	if c.HeaderSize != f.Size || c.Flags != f.Flags || c.ImageSize != f.ImageSize {
		t.Fatalf("header fields did not round trip: %+v", c.Header)
	}
	if c.Body != nil {
		t.Fatal("expected no embedded firmware volume for an all-zero body")
	}
}

func TestNewEFI2Capsule(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EFI2CapsuleGUID[:])
	f := efi2CapsuleFields{
		Size:            16 + 12,
		Flags:           0,
		ImageSize:       2048,
		FVImageOffset:   4,
		OEMHeaderOffset: 0,
	}
	if err := binary.Write(&buf, binary.LittleEndian, &f); err != nil {
		t.Fatal(err)
	}
	buf.Write(make([]byte, 128))

	c, err := New(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Kind != KindEFI2 {
		t.Fatalf("expected KindEFI2, got %v", c.Kind)
	}
	if c.BodyOffset != uint32(f.FVImageOffset) {
		t.Fatalf("expected BodyOffset %d, got %d", f.FVImageOffset, c.BodyOffset)
	}
}

func TestNewUEFICapsule(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(UEFICapsuleGUID[:])
	f := uefiCapsuleFields{
		Size:      16 + 12,
		Flags:     0,
		ImageSize: 1024,
	}
	if err := binary.Write(&buf, binary.LittleEndian, &f); err != nil {
		t.Fatal(err)
	}
	buf.Write(make([]byte, 64))

	c, err := New(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Kind != KindUEFI {
		t.Fatalf("expected KindUEFI, got %v", c.Kind)
	}
	// The UEFI capsule layout names its own header size as the body offset.
	if c.BodyOffset != f.Size {
		t.Fatalf("expected BodyOffset %d, got %d", f.Size, c.BodyOffset)
	}
}

func TestNewFirmwareManagementCapsuleUsesUEFILayout(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(FirmwareManagementCapsuleGUID[:])
	f := uefiCapsuleFields{Size: 16 + 12, Flags: 0, ImageSize: 512}
	if err := binary.Write(&buf, binary.LittleEndian, &f); err != nil {
		t.Fatal(err)
	}
	buf.Write(make([]byte, 64))

	c, err := New(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Kind != KindUEFI {
		t.Fatalf("expected a Firmware Management Capsule to parse with KindUEFI, got %v", c.Kind)
	}
}

func TestNewRejectsUnknownGUID(t *testing.T) {
	unknown := *guid.MustParse("00000000-0000-0000-0000-000000000000")
	var buf bytes.Buffer
	buf.Write(unknown[:])
	buf.Write(make([]byte, 64))
	if _, err := New(buf.Bytes(), 0); err == nil {
		t.Fatal("expected an error for an unrecognized capsule GUID")
	}
}
