// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pfs

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildEntry assembles one raw PFS entry (header + body + three empty
// trailers) around an arbitrary payload.
func buildEntry(t *testing.T, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	hdr := entryHeader{
		Spec:     1,
		BodySize: uint32(len(body)),
	}
	hdr.VersionType = [4]byte{'A', 'N', 0, 0}
	hdr.VersionFields = [4]int16{0x12, 3, 0, 0}
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write(body)
	return buf.Bytes()
}

// buildFile wraps entries with PFS.HDR./PFS.FTR. framing.
func buildFile(t *testing.T, entries ...[]byte) []byte {
	t.Helper()
	var body bytes.Buffer
	for _, e := range entries {
		body.Write(e)
	}

	var buf bytes.Buffer
	hdr := Header{Spec: 1, Size: uint32(body.Len())}
	copy(hdr.Magic[:], headerMagic)
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write(body.Bytes())

	ftr := Footer{Size: uint32(body.Len())}
	copy(ftr.Magic[:], footerMagic)
	if err := binary.Write(&buf, binary.LittleEndian, &ftr); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMatch(t *testing.T) {
	if Match([]byte("not a pfs file at all")) {
		t.Fatal("expected Match to reject non-PFS data")
	}
	raw := buildFile(t, buildEntry(t, make([]byte, 80)))
	if !Match(raw) {
		t.Fatal("expected Match to accept a buffer starting with PFS.HDR.")
	}
}

func TestNewParsesFraming(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 96)
	raw := buildFile(t, buildEntry(t, body))

	f, err := New(raw, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(f.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(f.Entries))
	}
	e := f.Entries[0]
	if !bytes.Equal(e.Body, body) {
		t.Fatalf("entry body mismatch: got %d bytes, want %d bytes", len(e.Body), len(body))
	}
	if e.Version != "12.3" {
		t.Fatalf("unexpected version string: %q", e.Version)
	}
	if !bytes.Equal(f.Buf(), raw) {
		t.Fatal("File.Buf() should return the full framed buffer")
	}
}

func TestNewRejectsBadFooter(t *testing.T) {
	raw := buildFile(t, buildEntry(t, make([]byte, 64)))
	// Corrupt the footer magic.
	copy(raw[len(raw)-8:], []byte("XXXXXXXX"))
	if _, err := New(raw, 0); err == nil {
		t.Fatal("expected an error for a corrupted footer magic")
	}
}

func TestNewMultipleEntries(t *testing.T) {
	raw := buildFile(t,
		buildEntry(t, make([]byte, 72)),
		buildEntry(t, make([]byte, 64)),
	)
	f, err := New(raw, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(f.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(f.Entries))
	}
}
