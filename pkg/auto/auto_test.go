// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auto

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/fwaudit/firmcore/pkg/pfs"
)

// buildEmptyPFS assembles the smallest possible valid Dell PFS container: a
// header and footer bracketing zero entries.
func buildEmptyPFS(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer

	hdr := pfs.Header{Spec: 1, Size: 0}
	copy(hdr.Magic[:], "PFS.HDR.")
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}

	ftr := pfs.Footer{Size: 0}
	copy(ftr.Magic[:], "PFS.FTR.")
	if err := binary.Write(&buf, binary.LittleEndian, &ftr); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAutoParserSinglePFS(t *testing.T) {
	raw := buildEmptyPFS(t)
	obj, err := AutoParser(raw)
	if err != nil {
		t.Fatalf("AutoParser: %v", err)
	}
	if _, ok := obj.(*pfs.File); !ok {
		t.Fatalf("expected a *pfs.File, got %T", obj)
	}
	if !bytes.Equal(obj.Buf(), raw) {
		t.Fatal("expected the returned object to cover the whole input")
	}
}

func TestAutoParserLeadingPaddingIsPreserved(t *testing.T) {
	pad := bytes.Repeat([]byte{0xFF}, paddingChunk)
	pfsBuf := buildEmptyPFS(t)
	raw := append(append([]byte{}, pad...), pfsBuf...)

	obj, err := AutoParser(raw)
	if err != nil {
		t.Fatalf("AutoParser: %v", err)
	}
	mc, ok := obj.(*MultiContainer)
	if !ok {
		t.Fatalf("expected a *MultiContainer, got %T", obj)
	}
	if len(mc.Objects) != 2 {
		t.Fatalf("expected 2 objects (padding + pfs), got %d", len(mc.Objects))
	}
	padObj, ok := mc.Objects[0].(*Raw)
	if !ok {
		t.Fatalf("expected the first object to be Raw padding, got %T", mc.Objects[0])
	}
	if len(padObj.Buf()) != paddingChunk {
		t.Fatalf("expected %d bytes of padding preserved, got %d", paddingChunk, len(padObj.Buf()))
	}
	if !bytes.Equal(mc.Buf(), raw) {
		t.Fatal("expected MultiContainer.Buf() to reassemble exactly to the input")
	}
}

func TestAutoParserTrailingBytesBecomeRaw(t *testing.T) {
	pfsBuf := buildEmptyPFS(t)
	trailer := []byte("trailing junk that nothing recognizes")
	raw := append(append([]byte{}, pfsBuf...), trailer...)

	obj, err := AutoParser(raw)
	if err != nil {
		t.Fatalf("AutoParser: %v", err)
	}
	mc, ok := obj.(*MultiContainer)
	if !ok {
		t.Fatalf("expected a *MultiContainer, got %T", obj)
	}
	last := mc.Objects[len(mc.Objects)-1]
	rawTail, ok := last.(*Raw)
	if !ok {
		t.Fatalf("expected the trailing object to be Raw, got %T", last)
	}
	if !bytes.Equal(rawTail.Buf(), trailer) {
		t.Fatalf("trailing raw bytes mismatch: got %q, want %q", rawTail.Buf(), trailer)
	}
}

func TestAutoParserNoRecognizerMatches(t *testing.T) {
	if _, err := AutoParser([]byte("nothing in here looks like firmware at all")); err == nil {
		t.Fatal("expected an error when nothing in the buffer is recognized")
	}
}
