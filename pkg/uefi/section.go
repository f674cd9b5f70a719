// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"unsafe"

	"github.com/fwaudit/firmcore/pkg/compression"
	"github.com/fwaudit/firmcore/pkg/guid"
	"github.com/fwaudit/firmcore/pkg/log"
	"github.com/fwaudit/firmcore/pkg/tiano"
	"github.com/fwaudit/firmcore/pkg/unicode"
)

// Well-known GUIDs for EFI_SECTION_GUID_DEFINED sections whose meaning isn't
// "decompress with a named codec": FirmwareVolumeGUID wraps a nested firmware
// volume with no transform at all, and StaticGUID carries its children
// un-encapsulated (falling back to "try as volume" if that yields nothing).
var (
	FirmwareVolumeGUID = *guid.MustParse("24400798-3807-4a42-b413-a1ecee205dd8")
	StaticGUID         = *guid.MustParse("fc1bcdb0-7d31-49aa-936a-a4600d9dd083")
)

const (
	// SectionMinLength is the minimum length of a file section header.
	SectionMinLength = 0x04
	// SectionExtMinLength is the minimum length of an extended file section header.
	SectionExtMinLength = 0x08
)

// SectionType holds a section type value
type SectionType uint8

// UEFI Section types
const (
	SectionTypeAll                 SectionType = 0x00
	SectionTypeCompression         SectionType = 0x01
	SectionTypeGUIDDefined         SectionType = 0x02
	SectionTypeDisposable          SectionType = 0x03
	SectionTypePE32                SectionType = 0x10
	SectionTypePIC                 SectionType = 0x11
	SectionTypeTE                  SectionType = 0x12
	SectionTypeDXEDepEx            SectionType = 0x13
	SectionTypeVersion             SectionType = 0x14
	SectionTypeUserInterface       SectionType = 0x15
	SectionTypeCompatibility16     SectionType = 0x16
	SectionTypeFirmwareVolumeImage SectionType = 0x17
	SectionTypeFreeformSubtypeGUID SectionType = 0x18
	SectionTypeRaw                 SectionType = 0x19
	SectionTypePEIDepEx            SectionType = 0x1b
	SectionMMDepEx                 SectionType = 0x1c
)

var sectionTypeNames = map[SectionType]string{
	SectionTypeCompression:         "EFI_SECTION_COMPRESSION",
	SectionTypeGUIDDefined:         "EFI_SECTION_GUID_DEFINED",
	SectionTypeDisposable:          "EFI_SECTION_DISPOSABLE",
	SectionTypePE32:                "EFI_SECTION_PE32",
	SectionTypePIC:                 "EFI_SECTION_PIC",
	SectionTypeTE:                  "EFI_SECTION_TE",
	SectionTypeDXEDepEx:            "EFI_SECTION_DXE_DEPEX",
	SectionTypeVersion:             "EFI_SECTION_VERSION",
	SectionTypeUserInterface:       "EFI_SECTION_USER_INTERFACE",
	SectionTypeCompatibility16:     "EFI_SECTION_COMPATIBILITY16",
	SectionTypeFirmwareVolumeImage: "EFI_SECTION_FIRMWARE_VOLUME_IMAGE",
	SectionTypeFreeformSubtypeGUID: "EFI_SECTION_FREEFORM_SUBTYPE_GUID",
	SectionTypeRaw:                 "EFI_SECTION_RAW",
	SectionTypePEIDepEx:            "EFI_SECTION_PEI_DEPEX",
	SectionMMDepEx:                 "EFI_SECTION_MM_DEPEX",
}

// String creates a string representation for the section type.
func (s SectionType) String() string {
	if t, ok := sectionTypeNames[s]; ok {
		return t
	}
	return "UNKNOWN"
}

// GUIDEDSectionAttribute holds a GUIDED section attribute bitfield
type GUIDEDSectionAttribute uint16

// UEFI GUIDED Section Attributes
const (
	GUIDEDSectionProcessingRequired GUIDEDSectionAttribute = 0x01
	GUIDEDSectionAuthStatusValid    GUIDEDSectionAttribute = 0x02
)

// SectionHeader represents an EFI_COMMON_SECTION_HEADER as specified in
// UEFI PI Spec 3.2.4 Firmware File Section
type SectionHeader struct {
	Size [3]uint8 `json:"-"`
	Type SectionType
}

// SectionExtHeader represents an EFI_COMMON_SECTION_HEADER2 as specified in
// UEFI PI Spec 3.2.4 Firmware File Section
type SectionExtHeader struct {
	SectionHeader
	ExtendedSize uint32 `json:"-"`
}

// SectionGUIDDefinedHeader contains the fields for a EFI_SECTION_GUID_DEFINED
// encapsulated section header.
type SectionGUIDDefinedHeader struct {
	GUID       guid.GUID
	DataOffset uint16
	Attributes uint16
}

// SectionGUIDDefined contains the type specific fields for a
// EFI_SECTION_GUID_DEFINED section.
type SectionGUIDDefined struct {
	SectionGUIDDefinedHeader

	// Metadata
	Compression string
}

// GetBinHeaderLen returns the length of the binary type specific header.
func (s *SectionGUIDDefined) GetBinHeaderLen() uint32 {
	return uint32(unsafe.Sizeof(s.SectionGUIDDefinedHeader))
}

// CompressionAlgorithmTag selects the codec an EFI_SECTION_COMPRESSION
// payload is encoded with.
type CompressionAlgorithmTag uint8

// Compression tags carried by a CompressedSectionHeader.
const (
	CompressionTagNone     CompressionAlgorithmTag = 0x00
	CompressionTagStandard CompressionAlgorithmTag = 0x01 // ambiguous: EFI or Tiano, try both
	CompressionTagCustom   CompressionAlgorithmTag = 0x02 // LZMA, possibly offset by 4 vendor bytes
)

// compressedSectionHeaderLen is the on-wire size of CompressedSectionHeader:
// 4 bytes + 1 byte. unsafe.Sizeof would overstate this (Go pads the struct to
// its largest field's alignment), so the binary length is named explicitly
// rather than derived from the Go type's in-memory layout.
const compressedSectionHeaderLen = 5

// CompressedSectionHeader is the binary type-specific header for an
// EFI_SECTION_COMPRESSION section.
type CompressedSectionHeader struct {
	UncompressedLength uint32
	CompressionType    CompressionAlgorithmTag
}

// CompressedSection contains the type specific fields for a
// EFI_SECTION_COMPRESSION section.
type CompressedSection struct {
	CompressedSectionHeader

	// Metadata: the specific codec that actually decoded the payload, filled
	// in once tag 0x01's EFI/Tiano ambiguity is resolved.
	Compression string
}

// GetBinHeaderLen returns the length of the binary type specific header.
func (s *CompressedSection) GetBinHeaderLen() uint32 {
	return compressedSectionHeaderLen
}

// TypeHeader interface forces type specific headers to report their length.
type TypeHeader interface {
	GetBinHeaderLen() uint32
}

// TypeSpecificHeader is used for marshalling and unmarshalling from JSON.
type TypeSpecificHeader struct {
	Type   SectionType
	Header TypeHeader
}

var headerTypes = map[SectionType]func() TypeHeader{
	SectionTypeGUIDDefined: func() TypeHeader { return &SectionGUIDDefined{} },
	SectionTypeCompression: func() TypeHeader { return &CompressedSection{} },
}

// UnmarshalJSON unmarshals a TypeSpecificHeader struct and correctly deduces
// the type of the interface.
func (t *TypeSpecificHeader) UnmarshalJSON(b []byte) error {
	var getType struct {
		Type   SectionType
		Header json.RawMessage
	}
	if err := json.Unmarshal(b, &getType); err != nil {
		return err
	}
	factory, ok := headerTypes[getType.Type]
	if !ok {
		return fmt.Errorf("unknown TypeSpecificHeader type '%v', unable to unmarshal", getType.Type)
	}
	t.Type = getType.Type
	t.Header = factory()
	return json.Unmarshal(getType.Header, &t.Header)
}

// DepExOpCode is one opcode for the dependency expression section.
type DepExOpCode string

// DepExOpCodes maps the numeric code to its mnemonic.
var DepExOpCodes = map[byte]DepExOpCode{
	0x0: "BEFORE",
	0x1: "AFTER",
	0x2: "PUSH",
	0x3: "AND",
	0x4: "OR",
	0x5: "NOT",
	0x6: "TRUE",
	0x7: "FALSE",
	0x8: "END",
	0x9: "SOR",
}

// DepExNamesToOpCodes maps the mnemonic back to the numeric code.
var DepExNamesToOpCodes = map[DepExOpCode]byte{}

func init() {
	for k, v := range DepExOpCodes {
		DepExNamesToOpCodes[v] = k
	}
}

// DepExOp contains one operation for a dependency expression.
type DepExOp struct {
	OpCode DepExOpCode
	GUID   *guid.GUID `json:",omitempty"`
}

// Section represents a Firmware File Section
type Section struct {
	Header SectionExtHeader
	Type   string
	buf    []byte

	// Metadata for extraction and recovery
	ExtractPath string
	FileOrder   int `json:"-"`

	// Type specific fields
	TypeSpecific *TypeSpecificHeader `json:",omitempty"`

	// For EFI_SECTION_USER_INTERFACE
	Name string `json:",omitempty"`

	// For EFI_SECTION_VERSION
	BuildNumber uint16 `json:",omitempty"`
	Version     string `json:",omitempty"`

	// For EFI_SECTION_DXE_DEPEX, EFI_SECTION_PEI_DEPEX, and EFI_SECTION_MM_DEPEX
	DepEx []DepExOp `json:",omitempty"`

	// Encapsulated firmware
	Encapsulated []*TypedFirmware `json:",omitempty"`
}

// String returns the name or version string of the section, when it has one.
func (s *Section) String() string {
	switch s.Header.Type {
	case SectionTypeUserInterface:
		return s.Name
	case SectionTypeVersion:
		return "Version " + s.Version
	}
	return ""
}

// SetType sets the section type in the header and updates the string name.
func (s *Section) SetType(t SectionType) {
	s.Header.Type = t
	s.Type = t.String()
}

// Buf returns the buffer.
// Used mostly for things interacting with the Firmware interface.
func (s *Section) Buf() []byte {
	return s.buf
}

// SetBuf sets the buffer.
// Used mostly for things interacting with the Firmware interface.
func (s *Section) SetBuf(buf []byte) {
	s.buf = buf
}

// Position returns 0, since a section's absolute offset is only meaningful
// relative to its enclosing file and is tracked by the visitor walking it.
func (s *Section) Position() uint64 {
	return 0
}

// Apply calls the visitor on the Section.
func (s *Section) Apply(v Visitor) error {
	return v.Visit(s)
}

// ApplyChildren calls the visitor on each child node of Section.
func (s *Section) ApplyChildren(v Visitor) error {
	for _, f := range s.Encapsulated {
		if err := f.Value.Apply(v); err != nil {
			return err
		}
	}
	return nil
}

// CreateSection creates a new section from minimal components. The GUID is
// only used in the case of a GUID Defined section type.
func CreateSection(t SectionType, buf []byte, encap []Firmware, g *guid.GUID) (*Section, error) {
	s := &Section{}
	s.SetType(t)
	s.buf = append([]byte{}, buf...)

	for _, e := range encap {
		s.Encapsulated = append(s.Encapsulated, MakeTyped(e))
	}

	switch s.Header.Type {
	case SectionTypeGUIDDefined:
		if g == nil {
			return nil, errors.New("guid was nil, can't make guid defined section")
		}
		guidDefHeader := &SectionGUIDDefined{}
		guidDefHeader.GUID = *g
		if c := compression.CompressorFromGUID(g); c != nil {
			guidDefHeader.Compression = c.Name()
		} else {
			guidDefHeader.Compression = "UNKNOWN"
		}
		guidDefHeader.Attributes = uint16(GUIDEDSectionProcessingRequired)
		s.TypeSpecific = &TypeSpecificHeader{Type: SectionTypeGUIDDefined, Header: guidDefHeader}
	}

	return s, nil
}

// GenSecHeader generates a full binary header for the section data. It
// assumes that the passed in section already contains section data in the
// buffer, the section type in the Type field, and the type specific header
// in the TypeSpecific field. It modifies the calling Section.
func (s *Section) GenSecHeader() error {
	var err error
	headerLen := uint32(SectionMinLength)
	if s.TypeSpecific != nil && s.TypeSpecific.Header != nil {
		headerLen += s.TypeSpecific.Header.GetBinHeaderLen()
	}
	s.Header.ExtendedSize = uint32(len(s.buf)) + headerLen
	if s.Header.ExtendedSize >= 0xFFFFFF {
		headerLen += 4
		s.Header.ExtendedSize += 4
	}

	// Set the correct data offset for GUID Defined headers.
	if s.Header.Type == SectionTypeGUIDDefined {
		gd := s.TypeSpecific.Header.(*SectionGUIDDefined)
		gd.DataOffset = uint16(headerLen)
		tsh := new(bytes.Buffer)
		if err = binary.Write(tsh, binary.LittleEndian, &gd.SectionGUIDDefinedHeader); err != nil {
			return err
		}
		s.buf = append(tsh.Bytes(), s.buf...)
	}

	if s.Header.Type == SectionTypeCompression {
		cs := s.TypeSpecific.Header.(*CompressedSection)
		tsh := new(bytes.Buffer)
		if err = binary.Write(tsh, binary.LittleEndian, &cs.CompressedSectionHeader); err != nil {
			return err
		}
		s.buf = append(tsh.Bytes(), s.buf...)
	}

	s.Header.Size = Write3Size(uint64(s.Header.ExtendedSize))
	h := new(bytes.Buffer)
	if s.Header.ExtendedSize >= 0xFFFFFF {
		err = binary.Write(h, binary.LittleEndian, &s.Header)
	} else {
		err = binary.Write(h, binary.LittleEndian, &s.Header.SectionHeader)
	}
	if err != nil {
		return err
	}
	s.buf = append(h.Bytes(), s.buf...)
	return nil
}

// ErrOversizeHdr is returned by NewSection when a type-specific payload is
// smaller than its fixed header requires.
type ErrOversizeHdr struct {
	hdrsiz uintptr
	bufsiz int
}

func (e *ErrOversizeHdr) Error() string {
	return fmt.Sprintf("header size %#x larger than available data %#x", e.hdrsiz, e.bufsiz)
}

// NewSection parses a sequence of bytes and returns a Section object, if a
// valid one is passed, or an error.
func NewSection(buf []byte, fileOrder int) (*Section, error) {
	if err := enterDepth(); err != nil {
		return nil, err
	}
	defer exitDepth()

	s := Section{FileOrder: fileOrder}
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &s.Header.SectionHeader); err != nil {
		return nil, err
	}

	s.Type = s.Header.Type.String()

	headerSize := unsafe.Sizeof(SectionHeader{})
	if s.Header.Size == [3]uint8{0xFF, 0xFF, 0xFF} {
		if err := binary.Read(r, binary.LittleEndian, &s.Header.ExtendedSize); err != nil {
			return nil, err
		}
		if s.Header.ExtendedSize == 0xFFFFFFFF {
			return nil, errors.New("section size and extended size are all FFs! there should not be free space inside a file")
		}
		headerSize = unsafe.Sizeof(SectionExtHeader{})
	} else {
		s.Header.ExtendedSize = uint32(Read3Size(s.Header.Size))
	}

	if buflen := len(buf); int(s.Header.ExtendedSize) > buflen {
		return nil, fmt.Errorf("section size mismatch! Section has size %v, but buffer is %v bytes big",
			s.Header.ExtendedSize, buflen)
	}

	if ReadOnly {
		s.buf = buf[:s.Header.ExtendedSize]
	} else {
		newBuf := buf[:s.Header.ExtendedSize]
		s.buf = make([]byte, s.Header.ExtendedSize)
		copy(s.buf, newBuf)
	}

	switch s.Header.Type {
	case SectionTypeCompression:
		typeSpec := &CompressedSection{}
		hdrLen := uint64(compressedSectionHeaderLen)
		if uint64(len(s.buf)) <= uint64(headerSize)+hdrLen {
			return nil, &ErrOversizeHdr{hdrsiz: headerSize + uintptr(hdrLen), bufsiz: len(s.buf)}
		}
		if err := binary.Read(bytes.NewReader(s.buf[headerSize:]), binary.LittleEndian, &typeSpec.CompressedSectionHeader); err != nil {
			return nil, err
		}
		s.TypeSpecific = &TypeSpecificHeader{Type: SectionTypeCompression, Header: typeSpec}

		payload := s.buf[uint64(headerSize)+hdrLen:]
		encapBuf, subtype := decompressCompressionPayload(typeSpec.CompressionType, payload, int(typeSpec.UncompressedLength))
		typeSpec.Compression = subtype
		if encapBuf != nil {
			if err := appendSections(&s, encapBuf); err != nil {
				log.Errorf("unable to parse decompressed section stream: %v", err)
				s.Encapsulated = nil
				encapBuf = nil
			}
		}
		if encapBuf == nil {
			if raw, err := CreateSection(SectionTypeRaw, payload, nil, nil); err == nil {
				s.Encapsulated = []*TypedFirmware{MakeTyped(raw)}
			}
		}

	case SectionTypeGUIDDefined:
		typeSpec := &SectionGUIDDefined{}
		if err := binary.Read(r, binary.LittleEndian, &typeSpec.SectionGUIDDefinedHeader); err != nil {
			return nil, err
		}
		s.TypeSpecific = &TypeSpecificHeader{Type: SectionTypeGUIDDefined, Header: typeSpec}

		payload := buf[typeSpec.DataOffset:]
		switch {
		case typeSpec.GUID == StaticGUID:
			typeSpec.Compression = "NONE"
			if err := appendSections(&s, payload); err != nil || len(s.Encapsulated) == 0 {
				s.Encapsulated = nil
				if fv, ferr := NewFirmwareVolume(payload, 0, true); ferr == nil {
					s.Encapsulated = []*TypedFirmware{MakeTyped(fv)}
				} else if raw, rerr := CreateSection(SectionTypeRaw, payload, nil, nil); rerr == nil {
					s.Encapsulated = []*TypedFirmware{MakeTyped(raw)}
				}
			}

		case typeSpec.GUID == FirmwareVolumeGUID:
			typeSpec.Compression = "NONE"
			fv, err := NewFirmwareVolume(payload, 0, true)
			if err != nil {
				return nil, fmt.Errorf("guid-defined firmware volume wrapper did not parse: %v", err)
			}
			s.Encapsulated = []*TypedFirmware{MakeTyped(fv)}

		case typeSpec.Attributes&uint16(GUIDEDSectionProcessingRequired) != 0 && !DisableDecompression:
			var encapBuf []byte
			if compressor := compression.CompressorFromGUID(&typeSpec.GUID); compressor != nil {
				typeSpec.Compression = compressor.Name()
				var err error
				encapBuf, err = compressor.Decode(payload)
				if err != nil {
					log.Errorf("unable to decode guid defined section: %v", err)
					typeSpec.Compression = "UNKNOWN"
				}
			} else {
				typeSpec.Compression = "UNKNOWN"
			}
			if len(encapBuf) > 0 {
				if err := appendSections(&s, encapBuf); err != nil {
					return nil, err
				}
			} else if typeSpec.Compression == "UNKNOWN" {
				if raw, err := CreateSection(SectionTypeRaw, payload, nil, nil); err == nil {
					s.Encapsulated = []*TypedFirmware{MakeTyped(raw)}
				}
			}

		default:
			// Unrecognized GUID: best-effort, non-fatal attempt to parse the
			// payload as a nested firmware volume.
			typeSpec.Compression = "NONE"
			if fv, err := NewFirmwareVolume(payload, 0, true); err == nil {
				s.Encapsulated = []*TypedFirmware{MakeTyped(fv)}
			}
		}

	case SectionTypeUserInterface:
		if len(s.buf) <= int(headerSize) {
			return nil, &ErrOversizeHdr{hdrsiz: headerSize, bufsiz: len(s.buf)}
		}
		s.Name = unicode.UCS2ToUTF8(s.buf[headerSize:])

	case SectionTypeVersion:
		if len(s.buf) <= int(headerSize+2) {
			return nil, &ErrOversizeHdr{hdrsiz: headerSize + 2, bufsiz: len(s.buf)}
		}
		s.BuildNumber = binary.LittleEndian.Uint16(s.buf[headerSize : headerSize+2])
		s.Version = unicode.UCS2ToUTF8(s.buf[headerSize+2:])

	case SectionTypeFirmwareVolumeImage:
		if len(s.buf) <= int(headerSize) {
			return nil, &ErrOversizeHdr{hdrsiz: headerSize, bufsiz: len(s.buf)}
		}
		fv, err := NewFirmwareVolume(s.buf[headerSize:], 0, true)
		if err != nil && len(s.buf) > int(headerSize)+4 {
			// Some images place the volume 4 bytes past the section
			// header; retry there before giving up.
			fv, err = NewFirmwareVolume(s.buf[headerSize+4:], 0, true)
		}
		if err != nil {
			return nil, err
		}
		s.Encapsulated = []*TypedFirmware{MakeTyped(fv)}

	case SectionTypeDXEDepEx, SectionTypePEIDepEx, SectionMMDepEx:
		if len(s.buf) <= int(headerSize) {
			return nil, &ErrOversizeHdr{hdrsiz: headerSize, bufsiz: len(s.buf)}
		}
		var err error
		if s.DepEx, err = parseDepEx(s.buf[headerSize:]); err != nil {
			log.Warnf("%v", err)
		}
	}

	return &s, nil
}

// appendSections parses data as a sequence of sections - the convention used
// both for a GUID-defined section's decompressed payload and for a
// Compression section's decompressed body - and appends the results onto
// s.Encapsulated.
func appendSections(s *Section, data []byte) error {
	for i, offset := 0, uint64(0); offset < uint64(len(data)); i++ {
		encapS, err := NewSection(data[offset:], i)
		if err != nil {
			return fmt.Errorf("error parsing encapsulated section #%d at offset %d: %v",
				i, offset, err)
		}
		if encapS.Header.ExtendedSize == 0 {
			return fmt.Errorf("encapsulated section #%d at offset %d has zero size", i, offset)
		}
		// The PI spec doesn't mandate an alignment here, but UEFITool aligns
		// to 4 bytes and that has proven correct on every image seen so far.
		offset = Align4(offset + uint64(encapS.Header.ExtendedSize))
		s.Encapsulated = append(s.Encapsulated, MakeTyped(encapS))
	}
	return nil
}

// decompressCompressionPayload resolves an EFI_SECTION_COMPRESSION payload
// per its algorithm tag, returning the decompressed bytes and the codec name
// that produced them, or (nil, "UNKNOWN") if nothing in the candidate list
// for that tag succeeded.
func decompressCompressionPayload(tag CompressionAlgorithmTag, payload []byte, uncompressedSize int) ([]byte, string) {
	if DisableDecompression {
		return nil, "UNKNOWN"
	}
	switch tag {
	case CompressionTagNone:
		return payload, "NONE"

	case CompressionTagStandard:
		// Tag 0x01 doesn't distinguish EFI from Tiano; try EFI first, as a
		// size header that was actually produced by Tiano may still happen
		// to decode cleanly (if incorrectly) under EFI's narrower
		// position-table count field, so EFI is given priority on a tie per
		// convention.
		candidates := []compression.Compressor{
			&compression.SizedTiano{Variant: tiano.EFI, Size: uncompressedSize},
			&compression.SizedTiano{Variant: tiano.Tiano, Size: uncompressedSize},
		}
		if idx, out, ok := compression.TryDecompress(candidates, payload); ok {
			return out, candidates[idx].Name()
		}

	case CompressionTagCustom:
		lzma := &compression.LZMA{}
		if out, err := lzma.Decode(payload); err == nil {
			return out, lzma.Name()
		}
		// Some vendors prefix the LZMA stream with 4 extra bytes.
		if len(payload) > 4 {
			if out, err := lzma.Decode(payload[4:]); err == nil {
				return out, lzma.Name()
			}
		}
	}
	return nil, "UNKNOWN"
}

func parseDepEx(b []byte) ([]DepExOp, error) {
	depEx := []DepExOp{}
	r := bytes.NewBuffer(b)
	for {
		opCodeByte, err := r.ReadByte()
		if err != nil {
			return nil, errors.New("invalid DEPEX, no END")
		}
		opCodeStr, ok := DepExOpCodes[opCodeByte]
		if !ok {
			return nil, fmt.Errorf("invalid DEPEX opcode, %#v", opCodeByte)
		}
		op := DepExOp{OpCode: opCodeStr}
		if opCodeStr == "BEFORE" || opCodeStr == "AFTER" || opCodeStr == "PUSH" {
			op.GUID = &guid.GUID{}
			if err := binary.Read(r, binary.LittleEndian, op.GUID); err != nil {
				return nil, fmt.Errorf("invalid DEPEX, could not read GUID: %v", err)
			}
		}
		depEx = append(depEx, op)
		if opCodeStr == "END" {
			break
		}
	}
	return depEx, nil
}
