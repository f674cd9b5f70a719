// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capsule implements the UEFI capsule wrapper: a small header
// identified by one of a handful of well-known GUIDs, naming an offset to
// an embedded firmware volume body.
package capsule

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fwaudit/firmcore/pkg/guid"
	"github.com/fwaudit/firmcore/pkg/uefi"
)

// Kind distinguishes the capsule header layouts in use: the three
// historical "EFI Capsule" variants, plus the Firmware Management Capsule
// GUID, which uses the same minimal layout as the plain UEFI Capsule.
type Kind int

const (
	// KindUnknown marks a GUID this package does not recognize.
	KindUnknown Kind = iota
	// KindEFI is the original "EFICapsule" header, with a full offset table
	// (split info, OEM header, author/revision/description sections).
	KindEFI
	// KindEFI2 is "EFI2Capsule": size/flags/image-size followed by two
	// 16-bit offsets for the firmware volume image and OEM header.
	KindEFI2
	// KindUEFI is the plain "UEFI Capsule" header (and, by the same shape,
	// a Firmware Management Capsule): size/flags/image-size, with the body
	// offset equal to the header size itself.
	KindUEFI
)

// Well-known capsule GUIDs.
var (
	EFICapsuleGUID                = *guid.MustParse("3B6686BD-0D76-4030-B70E-B5519E2FC5A0")
	EFI2CapsuleGUID               = *guid.MustParse("4A3CA68B-7723-48FB-3D80-578CC1FEC44D")
	UEFICapsuleGUID               = *guid.MustParse("539182B9-ABB5-4391-B69A-E3A943F72FCC")
	FirmwareManagementCapsuleGUID = *guid.MustParse("6DCBD5ED-E82D-4C44-BDA1-7194199AD92A")
)

func kindForGUID(g guid.GUID) Kind {
	switch g {
	case EFICapsuleGUID:
		return KindEFI
	case EFI2CapsuleGUID:
		return KindEFI2
	case UEFICapsuleGUID, FirmwareManagementCapsuleGUID:
		return KindUEFI
	}
	return KindUnknown
}

type efiCapsuleFields struct {
	Size                        uint32
	Flags                       uint32
	ImageSize                   uint32
	SequenceNumber              uint32
	InstanceGUID                guid.GUID
	OffsetToSplitInformation    uint32
	OffsetToCapsuleBody         uint32
	OffsetToOemDefinedHeader    uint32
	OffsetToAuthorInformation   uint32
	OffsetToRevisionInformation uint32
	OffsetToShortDescription    uint32
	OffsetToLongDescription     uint32
	OffsetToApplicableDevices   uint32
}

type efi2CapsuleFields struct {
	Size            uint32
	Flags           uint32
	ImageSize       uint32
	FVImageOffset   uint16
	OEMHeaderOffset uint16
}

type uefiCapsuleFields struct {
	Size      uint32
	Flags     uint32
	ImageSize uint32
}

// Header is the parsed capsule preamble, with fields normalized across the
// three known layouts. BodyOffset is interpreted relative to the start of
// the whole capsule unless that offset doesn't land on a valid firmware
// volume, in which case New retries it as an offset from the end of the
// header (HeaderSize bytes into the capsule) instead (Intel's own tooling
// is known to produce capsules that need the second interpretation).
type Header struct {
	CapsuleGUID    guid.GUID
	InstanceGUID   guid.GUID
	Kind           Kind
	HeaderSize     uint32
	Flags          uint32
	ImageSize      uint32
	SequenceNumber uint32
	BodyOffset     uint32
}

// Capsule is a parsed UEFI capsule: a Header plus whatever preamble bytes
// precede the body offset and the firmware volume the body offset points
// to, if one was found.
type Capsule struct {
	Header
	Preamble []byte
	Body     *uefi.TypedFirmware `json:",omitempty"`

	buf    []byte
	offset uint64
}

// Match reports whether buf opens with a recognized capsule GUID.
func Match(buf []byte) bool {
	if len(buf) < guid.Size {
		return false
	}
	var g guid.GUID
	copy(g[:], buf[:guid.Size])
	return kindForGUID(g) != KindUnknown
}

// New parses a UEFI capsule out of buf. offset records the absolute
// position buf was found at, for Position().
func New(buf []byte, offset uint64) (*Capsule, error) {
	if !Match(buf) {
		return nil, fmt.Errorf("not a recognized capsule GUID")
	}
	var g guid.GUID
	copy(g[:], buf[:guid.Size])
	kind := kindForGUID(g)

	c := &Capsule{offset: offset}
	c.CapsuleGUID = g
	c.Kind = kind

	rest := buf[guid.Size:]
	switch kind {
	case KindEFI:
		var f efiCapsuleFields
		if err := binary.Read(bytes.NewReader(rest), binary.LittleEndian, &f); err != nil {
			return nil, err
		}
		c.HeaderSize = f.Size
		c.Flags = f.Flags
		c.ImageSize = f.ImageSize
		c.SequenceNumber = f.SequenceNumber
		c.InstanceGUID = f.InstanceGUID
		c.BodyOffset = f.OffsetToCapsuleBody

	case KindEFI2:
		var f efi2CapsuleFields
		if err := binary.Read(bytes.NewReader(rest), binary.LittleEndian, &f); err != nil {
			return nil, err
		}
		c.HeaderSize = f.Size
		c.Flags = f.Flags
		c.ImageSize = f.ImageSize
		c.BodyOffset = uint32(f.FVImageOffset)

	case KindUEFI:
		var f uefiCapsuleFields
		if err := binary.Read(bytes.NewReader(rest), binary.LittleEndian, &f); err != nil {
			return nil, err
		}
		c.HeaderSize = f.Size
		c.Flags = f.Flags
		c.ImageSize = f.ImageSize
		c.BodyOffset = f.Size
	}

	if uint64(c.HeaderSize) > uint64(len(buf)) {
		return nil, uefi.ErrTruncatedInput
	}
	data := buf[c.HeaderSize:]
	if uint64(c.BodyOffset) <= uint64(len(data)) {
		c.Preamble = data[:c.BodyOffset]
	}

	body := tryParseBody(data, c.BodyOffset, c.HeaderSize)
	if body != nil {
		c.Body = uefi.MakeTyped(body)
	}

	end := uint64(c.HeaderSize) + uint64(c.ImageSize)
	if end > uint64(len(buf)) || c.ImageSize == 0 {
		end = uint64(len(buf))
	}
	c.buf = buf[:end]

	return c, nil
}

// tryParseBody attempts the body offset as relative to the start of the
// whole capsule first (offset minus the header size into data), falling
// back to interpreting it as relative to the end of the header if the first
// interpretation doesn't land on a valid firmware volume.
func tryParseBody(data []byte, bodyOffset, headerSize uint32) *uefi.FirmwareVolume {
	if bodyOffset >= headerSize {
		altOffset := bodyOffset - headerSize
		if uint64(altOffset) < uint64(len(data)) {
			if fv, err := uefi.NewFirmwareVolume(data[altOffset:], uint64(altOffset), true); err == nil {
				return fv
			}
		}
	}
	if uint64(bodyOffset) < uint64(len(data)) {
		if fv, err := uefi.NewFirmwareVolume(data[bodyOffset:], uint64(bodyOffset), true); err == nil {
			return fv
		}
	}
	return nil
}

// Buf returns the capsule's full raw bytes.
func (c *Capsule) Buf() []byte { return c.buf }

// SetBuf sets the capsule's raw bytes.
func (c *Capsule) SetBuf(buf []byte) { c.buf = buf }

// Position returns the absolute offset the capsule was found at.
func (c *Capsule) Position() uint64 { return c.offset }

// Apply calls the visitor on the Capsule.
func (c *Capsule) Apply(v uefi.Visitor) error {
	return v.Visit(c)
}

// ApplyChildren calls the visitor on the embedded firmware volume, if any
// was found.
func (c *Capsule) ApplyChildren(v uefi.Visitor) error {
	if c.Body == nil {
		return nil
	}
	return c.Body.Value.Apply(v)
}
