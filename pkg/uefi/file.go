// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fwaudit/firmcore/pkg/guid"
	"github.com/fwaudit/firmcore/pkg/log"
)

// FVFileType represents the different types possible in an EFI file.
type FVFileType uint8

// UEFI FV file types
const (
	FVFileTypeAll FVFileType = iota
	FVFileTypeRaw
	FVFileTypeFreeForm
	FVFileTypeSECCore
	FVFileTypePEICore
	FVFileTypeDXECore
	FVFileTypePEIM
	FVFileTypeDriver
	FVFileTypeCombinedPEIMDriver
	FVFileTypeApplication
	FVFileTypeSMM
	FVFileTypeVolumeImage
	FVFileTypeCombinedSMMDXE
	FVFileTypeSMMCore
	FVFileTypeSMMStandalone
	FVFileTypeSMMCoreStandalone
	FVFileTypeOEMMin   FVFileType = 0xC0
	FVFileTypeOEMMax   FVFileType = 0xDF
	FVFileTypeDebugMin FVFileType = 0xE0
	FVFileTypeDebugMax FVFileType = 0xEF
	FVFileTypePad      FVFileType = 0xF0
	FVFileTypeFFSMin   FVFileType = 0xF0
	FVFileTypeFFSMax   FVFileType = 0xFF
)

// SupportedFiles lists the file types whose contents get parsed into
// sections. File types not on this list are treated as an opaque binary blob.
var SupportedFiles = map[FVFileType]bool{
	FVFileTypeRaw:      false,
	FVFileTypeFreeForm: true,
	FVFileTypeSECCore:  true,
	FVFileTypePEICore:  true,
	FVFileTypeDXECore:  true,
	// PEIMs are intentionally left unparsed: decompressing and recompressing
	// them tends to grow them past their original size.
	FVFileTypeDriver:             true,
	FVFileTypeCombinedPEIMDriver: true,
	FVFileTypeApplication:        true,
	FVFileTypeSMM:                true,
	FVFileTypeVolumeImage:        true,
	FVFileTypeCombinedSMMDXE:     true,
	FVFileTypeSMMCore:            true,
	FVFileTypeSMMStandalone:      true,
	FVFileTypeSMMCoreStandalone:  true,
}

var fileTypeNames = map[FVFileType]string{
	FVFileTypeRaw:                "EFI_FV_FILETYPE_RAW",
	FVFileTypeFreeForm:           "EFI_FV_FILETYPE_FREEFORM",
	FVFileTypeSECCore:            "EFI_FV_FILETYPE_SECURITY_CORE",
	FVFileTypePEICore:            "EFI_FV_FILETYPE_PEI_CORE",
	FVFileTypeDXECore:            "EFI_FV_FILETYPE_DXE_CORE",
	FVFileTypePEIM:               "EFI_FV_FILETYPE_PEIM",
	FVFileTypeDriver:             "EFI_FV_FILETYPE_DRIVER",
	FVFileTypeCombinedPEIMDriver: "EFI_FV_FILETYPE_COMBINED_PEIM_DRIVER",
	FVFileTypeApplication:        "EFI_FV_FILETYPE_APPLICATION",
	FVFileTypeSMM:                "EFI_FV_FILETYPE_MM",
	FVFileTypeVolumeImage:        "EFI_FV_FILETYPE_FIRMWARE_VOLUME_IMAGE",
	FVFileTypeCombinedSMMDXE:     "EFI_FV_FILETYPE_COMBINED_MM_DXE",
	FVFileTypeSMMCore:            "EFI_FV_FILETYPE_MM_CORE",
	FVFileTypeSMMStandalone:      "EFI_FV_FILETYPE_MM_STANDALONE",
	FVFileTypeSMMCoreStandalone:  "EFI_FV_FILETYPE_MM_CORE_STANDALONE",
}

// NamesToFileType maps common file type strings back to the actual type.
var NamesToFileType map[string]FVFileType

func init() {
	NamesToFileType = make(map[string]FVFileType)
	for k, v := range fileTypeNames {
		NamesToFileType[strings.TrimPrefix(v, "EFI_FV_FILETYPE_")] = k
	}
}

// String creates a string representation for the file type.
func (f FVFileType) String() string {
	if s, ok := fileTypeNames[f]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_FILETYPE_%#x", int(f))
}

// FFGUID is the all-ones GUID, used to fill pad files when the erase
// polarity is 0xFF.
var FFGUID = guid.MustParse("FFFFFFFF-FFFF-FFFF-FFFF-FFFFFFFFFFFF")

// fileAlignments maps the encoded alignment field to the actual byte
// alignment. These values are not computable from the field, they must be
// looked up.
var fileAlignments = []uint64{
	1,
	16,
	128,
	512,
	1024,
	4 * 1024,
	32 * 1024,
	64 * 1024,
	128 * 1024,
	256 * 1024,
	512 * 1024,
	1024 * 1024,
	2 * 1024 * 1024,
	4 * 1024 * 1024,
	8 * 1024 * 1024,
	16 * 1024 * 1024,
}

const (
	// FileHeaderMinLength is the minimum length of a firmware file header.
	FileHeaderMinLength = 0x18
	// FileHeaderExtMinLength is the minimum length of an extended firmware file header.
	FileHeaderExtMinLength = 0x20
	// EmptyBodyChecksum is the value placed in the file IntegrityCheck field
	// when the body checksum bit isn't set.
	EmptyBodyChecksum uint8 = 0xAA
)

// IntegrityCheck holds the two 8 bit checksums for the file header and body
// separately.
type IntegrityCheck struct {
	Header uint8
	File   uint8
}

type fileAttr uint8

// FileState needs to be xored with Attributes.ErasePolarity before use.
type FileState uint8

// File state bits.
const (
	FileStateHeaderConstruction FileState = 0x01
	FileStateHeaderValid        FileState = 0x02
	FileStateDataValid          FileState = 0x04
	FileStateMarkedForUpdate    FileState = 0x08
	FileStateDeleted            FileState = 0x10
	FileStateHeaderInvalid      FileState = 0x20

	FileStateValid FileState = FileStateHeaderConstruction | FileStateHeaderValid | FileStateDataValid
)

// ThreeUint8 is a 3-byte little endian size field, the file/section on-disk
// equivalent of a 24 bit integer.
type ThreeUint8 [3]uint8

// UnmarshalJSON decodes a ThreeUint8 back from the plain integer produced by
// MarshalJSON.
func (t *ThreeUint8) UnmarshalJSON(b []byte) error {
	var v uint64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = ThreeUint8(Write3Size(v))
	return nil
}

// MarshalJSON encodes a ThreeUint8 as a plain integer.
func (t *ThreeUint8) MarshalJSON() ([]byte, error) {
	return json.Marshal(Read3Size([3]uint8(*t)))
}

// FileHeader represents an EFI File header.
type FileHeader struct {
	GUID       guid.GUID
	Checksum   IntegrityCheck `json:"-"`
	Type       FVFileType
	Attributes fileAttr
	Size       ThreeUint8
	State      FileState
}

// IsLarge checks if the large file attribute is set.
func (a fileAttr) IsLarge() bool {
	return a&0x01 != 0
}

// GetAlignment returns the byte alignment specified by the file header.
func (a fileAttr) GetAlignment() uint64 {
	alignVal := (a & 0x38) >> 3
	alignVal |= (a & 0x02) << 2
	return fileAlignments[alignVal]
}

func (a *fileAttr) setLarge(large bool) {
	if large {
		*a |= 0x01
	} else {
		*a &= 0xFE
	}
}

// HasChecksum checks if the file body needs to be checksummed.
func (a fileAttr) HasChecksum() bool {
	return a&0x40 != 0
}

// SetState sets the file state respecting erase polarity.
func (fh *FileHeader) SetState(s FileState) {
	fh.State = s ^ FileState(Attributes.ErasePolarity)
}

// FileHeaderExtended represents an EFI file header with the large file
// attribute set. It also serves as the generic header for every file
// regardless of actual size, with the size always copied into ExtendedSize
// so callers only have to check once.
type FileHeaderExtended struct {
	FileHeader
	ExtendedSize uint64 `json:"-"`
}

// File represents an EFI File.
type File struct {
	Header FileHeaderExtended
	Type   string

	// A File can contain either Sections or an NVarStore, but not both.
	Sections  []*Section `json:",omitempty"`
	NVarStore *NVarStore `json:",omitempty"`

	buf         []byte
	ExtractPath string
	DataOffset  uint64
}

// Buf returns the buffer.
// Used mostly for things interacting with the Firmware interface.
func (f *File) Buf() []byte {
	return f.buf
}

// SetBuf sets the buffer.
// Used mostly for things interacting with the Firmware interface.
func (f *File) SetBuf(buf []byte) {
	f.buf = buf
}

// Position returns 0, since a file's absolute offset is only meaningful
// relative to its enclosing volume and is tracked by the visitor walking it.
func (f *File) Position() uint64 {
	return 0
}

// Apply calls the visitor on the File.
func (f *File) Apply(v Visitor) error {
	return v.Visit(f)
}

// ApplyChildren calls the visitor on each child node of File.
func (f *File) ApplyChildren(v Visitor) error {
	if f.NVarStore != nil {
		return f.NVarStore.Apply(v)
	}
	for _, s := range f.Sections {
		if err := s.Apply(v); err != nil {
			return err
		}
	}
	return nil
}

// HeaderLen returns the length of the file header depending on the file size.
func (f *File) HeaderLen() uint64 {
	if f.Header.Attributes.IsLarge() {
		return FileHeaderExtMinLength
	}
	return FileHeaderMinLength
}

// ChecksumHeader returns a checksum of the header, excluding the State and
// body-checksum fields (which are computed and stored separately).
func (f *File) ChecksumHeader() uint8 {
	fh := f.Header
	headerSize := FileHeaderMinLength
	if fh.Attributes.IsLarge() {
		headerSize = FileHeaderExtMinLength
	}
	sum := Checksum8(f.buf[:headerSize])
	sum -= fh.Checksum.File
	sum -= uint8(fh.State)
	return sum
}

// SetSize sets the file's size, switching to the extended header if it
// doesn't fit in the 3-byte size field. When resizeFile is set, the overall
// file size grows to accommodate the extended header rather than the extra
// bytes coming out of the payload.
func (f *File) SetSize(size uint64, resizeFile bool) {
	fh := &f.Header
	fh.ExtendedSize = size
	fh.Attributes.setLarge(false)
	if fh.ExtendedSize > 0xFFFFFF {
		if resizeFile {
			fh.ExtendedSize += FileHeaderExtMinLength - FileHeaderMinLength
		}
		fh.Attributes.setLarge(true)
	}
	fh.Size = ThreeUint8(Write3Size(fh.ExtendedSize))
}

// ChecksumAndAssemble checksums the header and body and assembles the
// complete file buffer out of fileData.
func (f *File) ChecksumAndAssemble(fileData []byte) error {
	fh := &f.Header

	header := new(bytes.Buffer)
	if err := binary.Write(header, binary.LittleEndian, fh); err != nil {
		return fmt.Errorf("unable to construct binary header of file %v, got %v", fh.GUID, err)
	}
	f.buf = header.Bytes()
	fh.Checksum.Header -= f.ChecksumHeader()

	fh.Checksum.File = EmptyBodyChecksum
	if fh.Attributes.HasChecksum() {
		fh.Checksum.File = 0 - Checksum8(fileData)
	}

	header = new(bytes.Buffer)
	var err error
	if fh.Attributes.IsLarge() {
		err = binary.Write(header, binary.LittleEndian, fh)
	} else {
		err = binary.Write(header, binary.LittleEndian, fh.FileHeader)
	}
	if err != nil {
		return err
	}
	f.buf = append(header.Bytes(), fileData...)
	return nil
}

// CreatePadFile creates an empty pad file in order to align the next file.
func CreatePadFile(size uint64) (*File, error) {
	if size < FileHeaderMinLength {
		return nil, fmt.Errorf("size too small! min size required is %#x bytes, requested %#x",
			FileHeaderMinLength, size)
	}

	f := File{}
	fh := &f.Header

	switch Attributes.ErasePolarity {
	case 0xFF:
		fh.GUID = *FFGUID
	case 0x00:
		fh.GUID = *ZeroGUID
	default:
		return nil, fmt.Errorf("erase polarity not 0x00 or 0xFF, got %#x", Attributes.ErasePolarity)
	}

	fh.Attributes = 0

	f.SetSize(size, false)
	fh.Type = FVFileTypePad
	f.Type = fh.Type.String()

	payloadLen := size - FileHeaderMinLength
	if fh.Attributes.IsLarge() {
		payloadLen = size - FileHeaderExtMinLength
	}
	fileData := make([]byte, payloadLen)
	Erase(fileData, Attributes.ErasePolarity)

	fh.SetState(FileStateValid)

	if err := f.ChecksumAndAssemble(fileData); err != nil {
		return nil, err
	}
	return &f, nil
}

// NewFile parses a sequence of bytes and returns a File object, if a valid
// one is passed, or an error. A nil File with a nil error indicates the
// start of free space.
func NewFile(buf []byte) (*File, error) {
	if err := enterDepth(); err != nil {
		return nil, err
	}
	defer exitDepth()

	f := File{}
	f.DataOffset = FileHeaderMinLength

	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &f.Header.FileHeader); err != nil {
		return nil, err
	}

	f.Type = f.Header.Type.String()

	if f.Header.Size == [3]uint8{0xFF, 0xFF, 0xFF} {
		if err := binary.Read(r, binary.LittleEndian, &f.Header.ExtendedSize); err != nil {
			return nil, err
		}
		if f.Header.ExtendedSize == 0xFFFFFFFFFFFFFFFF {
			// Start of free space. Not a pad file: pad files have valid headers.
			return nil, nil
		}
		f.DataOffset = FileHeaderExtMinLength
	} else {
		f.Header.ExtendedSize = Read3Size(f.Header.Size)
	}

	if buflen := len(buf); f.Header.ExtendedSize > uint64(buflen) {
		return nil, fmt.Errorf("file size too big! file with GUID: %v has length %v, but is only %v bytes big",
			f.Header.GUID, f.Header.ExtendedSize, buflen)
	}

	if ReadOnly {
		f.buf = buf[:f.Header.ExtendedSize]
	} else {
		newBuf := buf[:f.Header.ExtendedSize]
		f.buf = make([]byte, f.Header.ExtendedSize)
		copy(f.buf, newBuf)
	}

	// A raw file tagged with the NVAR GUID holds a flat NVRAM store instead
	// of an opaque blob.
	if f.Header.Type == FVFileTypeRaw && f.Header.GUID == *NVAR {
		if f.DataOffset >= uint64(len(f.buf)) {
			return nil, fmt.Errorf("data offset %#x exceeds buffer size %#x", f.DataOffset, len(f.buf))
		}
		ns, err := NewNVarStore(f.buf[f.DataOffset:])
		if err != nil {
			log.Errorf("error parsing NVAR store in file %v: %v", f.Header.GUID, err)
		}
		f.NVarStore = ns
	}

	if !SupportedFiles[f.Header.Type] {
		return &f, nil
	}

	for i, offset := 0, f.DataOffset; offset < f.Header.ExtendedSize; i++ {
		s, err := NewSection(f.buf[offset:], i)
		if err != nil {
			return nil, fmt.Errorf("error parsing sections of file %v: %v", f.Header.GUID, err)
		}
		if s.Header.ExtendedSize == 0 {
			return nil, fmt.Errorf("invalid length of section of file %v", f.Header.GUID)
		}
		offset += uint64(s.Header.ExtendedSize)
		// The PI spec doesn't mandate an alignment here, but UEFITool aligns
		// to 4 bytes and that has proven correct on every image seen so far.
		offset = Align4(offset)
		f.Sections = append(f.Sections, s)
	}
	return &f, nil
}
