// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pfs implements Dell's "PFS" firmware update container: a
// PFS.HDR./PFS.FTR.-bracketed chain of fixed-header entries, each of which
// may itself embed a nested partitioned ROM or a sequence of firmware
// volumes.
package pfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fwaudit/firmcore/pkg/guid"
	"github.com/fwaudit/firmcore/pkg/log"
	"github.com/fwaudit/firmcore/pkg/uefi"
)

var (
	headerMagic = []byte("PFS.HDR.")
	footerMagic = []byte("PFS.FTR.")
)

const (
	headerLen      = 0x10
	footerLen      = 0x10
	entryHeaderLen = 0x48

	// partitionDataOffset is how far into a partitioned entry's per-chunk
	// header the actual chunk payload begins; the bytes between the chunk
	// header and this offset are a block of variables this package has no
	// use for.
	partitionDataOffset = 0x248
	partitionHeaderLen  = 0x48
)

// FirmwareVolumesGUID marks an Entry whose body is not itself a PFS chunk
// but a back-to-back chain of firmware volumes.
var FirmwareVolumesGUID = *guid.MustParse("7EC6C2B0-3FE3-42A0-A316-22DD0517C1E8")

// Header is the 16-byte PFS.HDR. preamble: a magic, the container format
// spec version, and the size of the entry chain that follows (the body, not
// counting this header or the trailing footer).
type Header struct {
	Magic [8]byte
	Spec  uint32
	Size  uint32
}

// Footer is the 16-byte PFS.FTR. trailer. Size repeats Header.Size as a
// sanity check.
type Footer struct {
	Size     uint32
	Reserved uint32
	Magic    [8]byte
}

// entryHeader is the fixed 0x48-byte header in front of every Entry's body.
type entryHeader struct {
	UUID          guid.GUID
	Spec          uint32
	VersionType   [4]byte
	VersionFields [4]int16
	Reserved      [8]byte
	BodySize      uint32
	Sig1Size      uint32
	PMIMSize      uint32
	Sig2Size      uint32
	CRCs          [16]byte
}

// Entry is one chunk in a PFS chain: a header, an opaque signed body, and
// two trailing signature blobs. The body is further interpreted as a
// nested partitioned ROM, a chain of firmware volumes, or left opaque,
// depending on what it looks like.
type Entry struct {
	Header     entryHeader
	Version    string
	Body       []byte
	Signature1 []byte
	PMIM       []byte
	Signature2 []byte
	Children   []*uefi.TypedFirmware `json:",omitempty"`

	buf  []byte
	size int
}

// Buf returns the entry's own header+body+trailers bytes.
func (e *Entry) Buf() []byte { return e.buf }

// SetBuf sets the entry's raw bytes.
func (e *Entry) SetBuf(buf []byte) { e.buf = buf }

// Position always reports 0: entries are addressed by index within their
// File, not by an absolute image offset.
func (e *Entry) Position() uint64 { return 0 }

// Apply calls the visitor on the Entry.
func (e *Entry) Apply(v uefi.Visitor) error {
	return v.Visit(e)
}

// ApplyChildren calls the visitor on every object discovered inside the
// entry's body.
func (e *Entry) ApplyChildren(v uefi.Visitor) error {
	for _, c := range e.Children {
		if err := c.Value.Apply(v); err != nil {
			return err
		}
	}
	return nil
}

func decodeVersion(h *entryHeader) string {
	var version string
	for i := 0; i < 4; i++ {
		switch h.VersionType[i] {
		case 'A':
			version += fmt.Sprintf("%X", uint16(h.VersionFields[i]))
		case 'N':
			version += fmt.Sprintf(".%d", h.VersionFields[i])
		}
	}
	return version
}

// parseEntry reads one Entry from the front of data and returns it along
// with the number of bytes it occupies (header + body + trailers), so the
// caller can step to the next one.
func parseEntry(data []byte) (*Entry, error) {
	if len(data) < entryHeaderLen {
		return nil, uefi.ErrTruncatedInput
	}
	e := &Entry{}
	if err := binary.Read(bytes.NewReader(data[:entryHeaderLen]), binary.LittleEndian, &e.Header); err != nil {
		return nil, err
	}
	e.Version = decodeVersion(&e.Header)

	bodyStart := entryHeaderLen
	bodyEnd := bodyStart + int(e.Header.BodySize)
	sig1End := bodyEnd + int(e.Header.Sig1Size)
	pmimEnd := sig1End + int(e.Header.PMIMSize)
	sig2End := pmimEnd + int(e.Header.Sig2Size)
	if sig2End > len(data) {
		return nil, uefi.ErrTruncatedInput
	}

	e.Body = data[bodyStart:bodyEnd]
	e.Signature1 = data[bodyEnd:sig1End]
	e.PMIM = data[sig1End:pmimEnd]
	e.Signature2 = data[pmimEnd:sig2End]
	e.size = sig2End
	e.buf = data[:sig2End]

	switch {
	case bytes.HasPrefix(e.Body, headerMagic):
		children, err := parsePartitionedSection(e.Body)
		if err != nil {
			log.Errorf("unable to parse partitioned PFS section: %v", err)
			break
		}
		e.Children = children
	case e.Header.UUID == FirmwareVolumesGUID:
		e.Children = discoverVolumes(e.Body)
	default:
		if fv, err := uefi.NewFirmwareVolume(e.Body, 0, true); err == nil {
			e.Children = []*uefi.TypedFirmware{uefi.MakeTyped(fv)}
		} else if raw, err := uefi.CreateSection(uefi.SectionTypeRaw, e.Body, nil, nil); err == nil {
			e.Children = []*uefi.TypedFirmware{uefi.MakeTyped(raw)}
		}
	}

	return e, nil
}

// discoverVolumes walks data as a back-to-back chain of firmware volumes,
// stopping at the first offset that doesn't parse as one.
func discoverVolumes(data []byte) []*uefi.TypedFirmware {
	var children []*uefi.TypedFirmware
	offset := uint64(0)
	for offset < uint64(len(data)) {
		fv, err := uefi.NewFirmwareVolume(data[offset:], offset, true)
		if err != nil {
			break
		}
		children = append(children, uefi.MakeTyped(fv))
		if fv.Length == 0 {
			break
		}
		offset += fv.Length
	}
	return children
}

// parsePartitionedSection reassembles the chunked body of a partitioned ROM
// (an Entry body that itself begins with PFS.HDR.): every 0x48-byte chunk
// header is stripped along with a 0x248-byte block of variables, and the
// remaining chunk payloads are concatenated before being re-parsed as a
// chain of firmware volumes.
func parsePartitionedSection(data []byte) ([]*uefi.TypedFirmware, error) {
	if len(data) < footerLen {
		return nil, uefi.ErrTruncatedInput
	}
	bodyEnd := len(data) - footerLen

	var reassembled []byte
	step := headerLen
	for step < bodyEnd {
		if step+partitionHeaderLen > len(data) {
			return nil, uefi.ErrTruncatedInput
		}
		header := data[step : step+partitionHeaderLen]
		chunkSize := binary.LittleEndian.Uint32(header[0x28 : 0x28+4])
		sig1Size := binary.LittleEndian.Uint32(header[0x2c : 0x2c+4])
		trpSize := binary.LittleEndian.Uint32(header[0x30 : 0x30+4])
		sig2Size := binary.LittleEndian.Uint32(header[0x34 : 0x34+4])

		step += partitionHeaderLen
		chunkEnd := step + int(chunkSize)
		dataStart := step + partitionDataOffset
		if chunkEnd > len(data) || dataStart > chunkEnd {
			return nil, uefi.ErrTruncatedInput
		}
		reassembled = append(reassembled, data[dataStart:chunkEnd]...)
		step += int(chunkSize) + int(sig1Size) + int(trpSize) + int(sig2Size)
	}

	return discoverVolumes(reassembled), nil
}

// File is a complete Dell PFS container.
type File struct {
	Header  Header
	Footer  Footer
	Entries []*Entry

	buf    []byte
	offset uint64
}

// Match reports whether buf begins with a PFS.HDR. magic, i.e. whether New
// is worth trying.
func Match(buf []byte) bool {
	return len(buf) >= headerLen && bytes.Equal(buf[:8], headerMagic)
}

// New parses a Dell PFS container out of buf. offset records the absolute
// position buf was found at, for Position().
func New(buf []byte, offset uint64) (*File, error) {
	if !Match(buf) {
		return nil, fmt.Errorf("not a PFS container: missing %q magic", headerMagic)
	}
	f := &File{offset: offset}
	if err := binary.Read(bytes.NewReader(buf[:headerLen]), binary.LittleEndian, &f.Header); err != nil {
		return nil, err
	}

	footerOffset := headerLen + int(f.Header.Size)
	if footerOffset+footerLen > len(buf) {
		return nil, uefi.ErrTruncatedInput
	}
	if err := binary.Read(bytes.NewReader(buf[footerOffset:footerOffset+footerLen]), binary.LittleEndian, &f.Footer); err != nil {
		return nil, err
	}
	if !bytes.Equal(f.Footer.Magic[:], footerMagic) {
		return nil, fmt.Errorf("PFS footer magic mismatch: got %q", f.Footer.Magic)
	}

	total := footerOffset + footerLen
	f.buf = buf[:total]
	body := buf[headerLen:footerOffset]

	for len(body) >= 64 {
		e, err := parseEntry(body)
		if err != nil {
			return nil, fmt.Errorf("unable to parse PFS entry #%d: %v", len(f.Entries), err)
		}
		f.Entries = append(f.Entries, e)
		if e.size == 0 {
			break
		}
		body = body[e.size:]
	}

	return f, nil
}

// Buf returns the container's full raw bytes.
func (f *File) Buf() []byte { return f.buf }

// SetBuf sets the container's raw bytes.
func (f *File) SetBuf(buf []byte) { f.buf = buf }

// Position returns the absolute offset the container was found at.
func (f *File) Position() uint64 { return f.offset }

// Apply calls the visitor on the File.
func (f *File) Apply(v uefi.Visitor) error {
	return v.Visit(f)
}

// ApplyChildren calls the visitor on every Entry in the chain.
func (f *File) ApplyChildren(v uefi.Visitor) error {
	for _, e := range f.Entries {
		if err := e.Apply(v); err != nil {
			return err
		}
	}
	return nil
}
