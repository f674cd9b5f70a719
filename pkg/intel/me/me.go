// Copyright 2021 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package me

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/fwaudit/firmcore/pkg/uefi"
)

// LegacyFlashPartitionTableHeader describes the old flash partition table header
// in Intel ME binaries.
type LegacyFlashPartitionTableHeader struct {
	Padding        [16]uint8 // 16 zeros
	Marker         uint32    // Always $FPT
	NumFptEntries  uint32
	HeaderVersion  uint8
	EntryVersion   uint8
	HeaderLength   uint8 // Usually 0x30
	HeaderChecksum uint8
	TicksToAdd     uint16
	TokensToAdd    uint16
	UMASize        uint32
	Flags          uint32
}

func (h LegacyFlashPartitionTableHeader) String() string {
	var b strings.Builder
	b.WriteString("Flash partition table:\n")
	fmt.Fprintf(&b, " Entries       : %d\n", h.NumFptEntries)
	fmt.Fprintf(&b, " HeaderVersion : 0x%x\n", h.HeaderVersion)
	fmt.Fprintf(&b, " EntryVersion  : 0x%x\n", h.EntryVersion)
	fmt.Fprintf(&b, " HeaderLength  : 0x%x\n", h.HeaderLength)
	fmt.Fprintf(&b, " HeaderChecksum: 0x%x\n", h.HeaderChecksum)
	fmt.Fprintf(&b, " TicksToAdd    : 0x%x\n", h.TicksToAdd)
	fmt.Fprintf(&b, " TokensToAdd   : 0x%x\n", h.TokensToAdd)
	fmt.Fprintf(&b, " UMASize       : 0x%x\n", h.UMASize)
	fmt.Fprintf(&b, " Flags         : 0x%x\n", h.Flags)

	return b.String()
}

// FlashPartitionTableHeader describes the new flash partition table header
// in Intel ME binaries.
type FlashPartitionTableHeader struct {
	Marker             uint32 // Always $FPT
	NumFptEntries      uint32
	HeaderVersion      uint8 // Only support 2.0
	EntryVersion       uint8
	HeaderLength       uint8 // Usually 0x20
	HeaderChecksum     uint8
	TicksToAdd         uint16
	TokensToAdd        uint16
	UMASizeOrReserved  uint32
	FlashLayoutOrFlags uint32
	// Not Present in ME version 7
	FitcMajor  uint16
	FitcMinor  uint16
	FitcHotfix uint16
	FitcBuild  uint16
}

func (h FlashPartitionTableHeader) String() string {
	var b strings.Builder

	b.WriteString("Flash partition table:\n")
	fmt.Fprintf(&b, " Entries            : %d\n", h.NumFptEntries)
	fmt.Fprintf(&b, " HeaderVersion      : 0x%x\n", h.HeaderVersion)
	fmt.Fprintf(&b, " EntryVersion       : 0x%x\n", h.EntryVersion)
	fmt.Fprintf(&b, " HeaderLength       : 0x%x\n", h.HeaderLength)
	fmt.Fprintf(&b, " HeaderChecksum     : 0x%x\n", h.HeaderChecksum)
	fmt.Fprintf(&b, " TicksToAdd         : 0x%x\n", h.TicksToAdd)
	fmt.Fprintf(&b, " TokensToAdd        : 0x%x\n", h.TokensToAdd)
	fmt.Fprintf(&b, " UMASizeOrReserved  : 0x%x\n", h.UMASizeOrReserved)
	fmt.Fprintf(&b, " FlashLayoutOrFlags : 0x%x\n", h.FlashLayoutOrFlags)
	fmt.Fprintf(&b, " Fitc Version       : %d.%d.%d.%d\n", h.FitcMajor, h.FitcMinor, h.FitcHotfix, h.FitcBuild)

	return b.String()
}

// FlashPartitionTableEntry describes information of a flash partition table entry.
type FlashPartitionTableEntry struct {
	Name           [4]uint8
	Owner          [4]uint8
	Offset         uint32
	Length         uint32
	StartTokens    uint32
	MaxTokens      uint32
	ScratchSectors uint32
	Flags          uint32
}

func (e FlashPartitionTableEntry) String() string {
	var b strings.Builder
	b.WriteString("Flash partition entry:\n")
	fmt.Fprintf(&b, " Name          : %s\n", []byte{e.Name[0], e.Name[1], e.Name[2], e.Name[3]})
	fmt.Fprintf(&b, " Owner         : %s\n", []byte{e.Owner[0], e.Owner[1], e.Owner[2], e.Owner[3]})
	fmt.Fprintf(&b, " Offset        : 0x%x\n", e.Offset)
	fmt.Fprintf(&b, " Length        : 0x%x\n", e.Length)
	fmt.Fprintf(&b, " StartTokens   : 0x%x\n", e.StartTokens)
	fmt.Fprintf(&b, " MaxTokens     : 0x%x\n", e.MaxTokens)
	fmt.Fprintf(&b, " ScratchSectors: 0x%x\n", e.ScratchSectors)
	fmt.Fprintf(&b, " Flags         : 0x%x\n", e.Flags)

	if e.Flags>>24 == 0xff {
		b.WriteString(" Valid         : No\n")
	} else {
		b.WriteString(" Valid         : yes\n")
	}
	if e.Flags&1 > 0 {
		b.WriteString(" Partition     : Data\n")
	} else {
		b.WriteString(" Partition     : Code\n")
	}

	return b.String()
}

// IntelME abstracts the ME/CSME/SPS firmware found on intel platforms
type IntelME struct {
	hdr        *FlashPartitionTableHeader
	legacyhdr  *LegacyFlashPartitionTableHeader
	legacy     bool
	partitions []FlashPartitionTableEntry
	image      []byte
	// Offset in image to $FPT
	fptoffset uint32
	// position is the absolute offset this container was found at when
	// discovered by an outer dispatcher (e.g. pkg/auto); zero when parsed
	// as a whole image in its own right.
	position uint64
}

// Buf returns the ME image bytes.
func (m *IntelME) Buf() []byte { return m.image }

// SetBuf sets the ME image bytes.
func (m *IntelME) SetBuf(buf []byte) { m.image = buf }

// Position returns the absolute offset this container was found at.
func (m *IntelME) Position() uint64 { return m.position }

// Apply calls the visitor on the IntelME container.
func (m *IntelME) Apply(v uefi.Visitor) error {
	return v.Visit(m)
}

// ApplyChildren calls the visitor on nothing: partition contents are reached
// through ParseCodePartitionDirectory/Module rather than the Firmware tree.
func (m *IntelME) ApplyChildren(v uefi.Visitor) error {
	return nil
}

// ParseIntelFirmware parses the Intel firmware image by uefi.Firmware interface`
func ParseIntelFirmware(firmware uefi.Firmware) (*IntelME, error) {
	uefi, err := ParseIntelFirmwareBytes(firmware.Buf())
	if err != nil {
		return nil, fmt.Errorf("unable to get the content of file: %v", err)
	}

	return uefi, nil
}

// New parses an Intel ME container out of imageBytes, tagging it with the
// absolute offset it was found at so it composes into a larger tree (e.g.
// pkg/auto's dispatch) without losing its original position.
func New(imageBytes []byte, offset uint64) (*IntelME, error) {
	m, err := ParseIntelFirmwareBytes(imageBytes)
	if err != nil {
		return nil, err
	}
	m.position = offset
	return m, nil
}

// Match reports whether prefix opens with an Intel ME flash partition table,
// either directly or behind the 16-byte legacy padding. It only looks at
// the start of the buffer; ParseIntelFirmwareBytes does the full page-
// aligned search once a caller has decided this recognizer applies.
func Match(prefix []byte) bool {
	if bytes.HasPrefix(prefix, []byte(`$FPT`)) {
		return true
	}
	return bytes.HasPrefix(prefix, append(make([]byte, 16), []byte(`$FPT`)...))
}

// ParseIntelFirmwareBytes parses the Intel firmware image from bytes
func ParseIntelFirmwareBytes(imageBytes []byte) (*IntelME, error) {
	legacy := false
	fptoffset := -1
	// Search for the Flash partition table
	for i := 0; i < len(imageBytes); i += 0x1000 {

		// New Header
		if bytes.HasPrefix(imageBytes[i:], []byte(`$FPT`)) {
			fptoffset = i
			break
		}
		// Legacy Header
		if bytes.HasPrefix(imageBytes[i:], append(make([]byte, 16), []byte(`$FPT`)...)) {
			legacy = true
			fptoffset = i
			break
		}
	}
	if fptoffset == -1 {
		return nil, fmt.Errorf("no FlashPartitionTable found")
	}

	me := &IntelME{image: imageBytes, legacy: legacy, fptoffset: uint32(fptoffset)}
	reader := bytes.NewReader(imageBytes[fptoffset:])
	offset := 0
	entries := 0

	if legacy {
		if err := binary.Read(reader, binary.LittleEndian, &me.legacyhdr); err != nil {
			return nil, err
		}
		if me.legacyhdr.HeaderVersion != 0x20 {
			return nil, fmt.Errorf("unsupported header version. Got 0x%x", me.legacyhdr.HeaderVersion)
		}
		if int(me.legacyhdr.HeaderLength) > len(imageBytes)-fptoffset {
			return nil, fmt.Errorf("invalid header length. Got 0x%x", me.legacyhdr.HeaderLength)
		}
		offset = int(me.legacyhdr.HeaderLength)
		entries = int(me.legacyhdr.NumFptEntries)
	} else {
		if err := binary.Read(reader, binary.LittleEndian, &me.hdr); err != nil {
			return nil, err
		}
		if me.hdr.HeaderVersion != 0x20 {
			return nil, fmt.Errorf("unsupported header version. Got 0x%x", me.hdr.HeaderVersion)
		}
		if int(me.hdr.HeaderLength) > len(imageBytes)-fptoffset {
			return nil, fmt.Errorf("invalid header length. Got 0x%x", me.hdr.HeaderLength)
		}
		offset = int(me.hdr.HeaderLength)
		entries = int(me.hdr.NumFptEntries)
	}

	reader = bytes.NewReader(imageBytes[fptoffset+offset:])

	for i := 0; i < entries; i++ {
		var e FlashPartitionTableEntry
		if err := binary.Read(reader, binary.LittleEndian, &e); err != nil {
			return nil, err
		}
		me.partitions = append(me.partitions, e)

	}

	return me, nil
}

// ImageBytes just returns the image as `[]byte`.
func (m *IntelME) ImageBytes() []byte {
	return m.image
}

// PrintInfo prints the ME partitions in human readable format
func (m *IntelME) PrintInfo() string {
	ret := ""
	if m.legacy {
		ret += m.legacyhdr.String()
	} else {
		ret += m.hdr.String()
	}
	for i := range m.partitions {
		ret += m.partitions[i].String()
	}
	return ret
}

// WritePartition writes new data into specified partition.
// Must be equal in size to current parition
func (m *IntelME) WritePartition(id string, data []byte) (err error) {
	for i := range m.partitions {
		name := m.partitions[i].Name
		if string(bytes.Trim([]byte{name[0], name[1], name[2], name[3]}, "\x00")) == id {
			if uint32(len(data)) != m.partitions[i].Length {
				return fmt.Errorf("invalid length")
			}
			m.image = append(append(m.image[:m.partitions[i].Offset+m.fptoffset], data...),
				m.image[m.partitions[i].Offset+m.partitions[i].Length+m.fptoffset:]...)
			return nil
		}
	}
	return fmt.Errorf("not found")
}

// ReadPartition reads data from specified partition.
func (m *IntelME) ReadPartition(id string) (data []byte, err error) {
	for i := range m.partitions {
		name := m.partitions[i].Name
		if string(bytes.Trim([]byte{name[0], name[1], name[2], name[3]}, "\x00")) == id {
			data = m.image[m.partitions[i].Offset+m.fptoffset : m.partitions[i].Offset+m.partitions[i].Length+m.fptoffset]
			return data, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

// LsPartitions list all partition found in image
func (m *IntelME) LsPartitions() []string {
	var part []string
	for i := range m.partitions {
		name := m.partitions[i].Name
		part = append(part, string(bytes.Trim([]byte{name[0], name[1], name[2], name[3]}, "\x00")))
	}
	return part
}

// CPDEntryCompression describes how a $CPD module's payload is packed. The
// offset field's top byte is the only signal available; there is no
// independent way to confirm it short of attempting the decode.
type CPDEntryCompression int

// Compression kinds a $CPD entry offset byte can select.
const (
	CPDCompressionUnknown CPDEntryCompression = iota
	CPDCompressionNone
	CPDCompressionHuffman
	CPDCompressionLZMA
)

// codePartitionDirectoryMarker is the magic 4 bytes at the start of a $CPD
// manifest.
var codePartitionDirectoryMarker = []byte(`$CPD`)

// CodePartitionDirectoryHeader is the fixed portion of a $CPD manifest.
type CodePartitionDirectoryHeader struct {
	Marker       [4]uint8 // Always $CPD
	NumEntries   uint32
	HeaderVer    uint8
	EntryVer     uint8
	HeaderLength uint8
	Checksum     uint8
	PartitionID  [4]uint8
}

// CPDEntry describes one entry in a $CPD directory: a named module or
// metadata blob, given as an offset (with a packed compression hint in its
// top byte) and a length relative to the start of the directory.
type CPDEntry struct {
	Name         [12]uint8
	OffsetAndFlg uint32
	Length       uint32
	Reserved     uint8
}

// nameString returns the entry name with trailing NULs trimmed.
func (e CPDEntry) nameString() string {
	return string(bytes.TrimRight(e.Name[:], "\x00"))
}

// Offset returns the byte offset of the entry's payload relative to the
// start of the $CPD directory, with the compression-hint top byte masked off.
func (e CPDEntry) Offset() uint32 {
	return e.OffsetAndFlg & 0x00ffffff
}

// Compression applies the empirical offset-top-byte heuristic: 0x02 selects
// Huffman, 0x00 selects LZMA, and a `.met` name suffix (metadata, always
// stored flat) overrides both to "uncompressed". This rule is taken directly
// from community reverse engineering of the ME firmware layout rather than
// any official specification, and may need widening as new ME generations
// are seen.
func (e CPDEntry) Compression() CPDEntryCompression {
	if strings.HasSuffix(e.nameString(), ".met") {
		return CPDCompressionNone
	}
	switch (e.OffsetAndFlg >> 24) & 0xff {
	case 0x02:
		return CPDCompressionHuffman
	case 0x00:
		return CPDCompressionLZMA
	default:
		return CPDCompressionUnknown
	}
}

// CodePartitionDirectory is a parsed $CPD manifest together with its entry
// table, anchored at the partition's own base offset within the image.
type CodePartitionDirectory struct {
	Header  CodePartitionDirectoryHeader
	Entries []CPDEntry
	base    uint32
}

// ParseCodePartitionDirectory reads a $CPD manifest at the start of buf (the
// partition's own payload, as addressed by a FlashPartitionTableEntry).
func ParseCodePartitionDirectory(buf []byte, base uint32) (*CodePartitionDirectory, error) {
	if !bytes.HasPrefix(buf, codePartitionDirectoryMarker) {
		return nil, fmt.Errorf("no $CPD marker at partition base")
	}
	cpd := &CodePartitionDirectory{base: base}
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &cpd.Header); err != nil {
		return nil, fmt.Errorf("unable to read $CPD header: %v", err)
	}
	if int(cpd.Header.HeaderLength) > len(buf) {
		return nil, fmt.Errorf("invalid $CPD header length 0x%x", cpd.Header.HeaderLength)
	}
	r = bytes.NewReader(buf[cpd.Header.HeaderLength:])
	for i := uint32(0); i < cpd.Header.NumEntries; i++ {
		var e CPDEntry
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("unable to read $CPD entry %d: %v", i, err)
		}
		cpd.Entries = append(cpd.Entries, e)
	}
	return cpd, nil
}

// Module returns the raw (still-packed) payload bytes for the named $CPD
// entry, sliced out of partitionBuf (the full buffer the directory itself
// was parsed from), along with the compression it is packed with. Actual
// decoding is left to the caller: Huffman decoding of ME modules is a
// placeholder (see DESIGN.md), and LZMA modules can be handed to pkg/lzma.
func (c *CodePartitionDirectory) Module(partitionBuf []byte, name string) ([]byte, CPDEntryCompression, error) {
	for _, e := range c.Entries {
		if e.nameString() != name {
			continue
		}
		start, end := e.Offset(), e.Offset()+e.Length
		if int(end) > len(partitionBuf) {
			return nil, CPDCompressionUnknown, fmt.Errorf("module %q range [%#x:%#x] exceeds partition buffer of %#x bytes",
				name, start, end, len(partitionBuf))
		}
		return partitionBuf[start:end], e.Compression(), nil
	}
	return nil, CPDCompressionUnknown, fmt.Errorf("module %q not found in $CPD directory", name)
}

// ModuleNames lists every entry name present in the directory.
func (c *CodePartitionDirectory) ModuleNames() []string {
	names := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		names = append(names, e.nameString())
	}
	return names
}

// ParseCodePartitionDirectory locates and parses the $CPD manifest for the
// named ME partition, if present. Not every ME partition has a $CPD body;
// callers should treat a nil, non-error result as "not a manifest
// partition".
func (m *IntelME) ParseCodePartitionDirectory(id string) (*CodePartitionDirectory, error) {
	for i := range m.partitions {
		name := m.partitions[i].Name
		if string(bytes.Trim([]byte{name[0], name[1], name[2], name[3]}, "\x00")) != id {
			continue
		}
		base := m.partitions[i].Offset + m.fptoffset
		end := base + m.partitions[i].Length
		if !bytes.HasPrefix(m.image[base:end], codePartitionDirectoryMarker) {
			return nil, nil
		}
		return ParseCodePartitionDirectory(m.image[base:end], base)
	}
	return nil, fmt.Errorf("partition %q not found", id)
}
