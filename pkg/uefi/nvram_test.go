// Copyright 2019 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/fwaudit/firmcore/pkg/guid"
)

func mustWriteNVar(t *testing.T, buf *bytes.Buffer, v interface{}) {
	t.Helper()
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}
}

// TestNewNVarStoreTwoEntries builds a store holding one full variable (an
// inline GUID and an ASCII name) followed by one data-only entry that has no
// preceding link pointing at it, and checks both decode the way newNVar
// actually resolves them.
func TestNewNVarStoreTwoEntries(t *testing.T) {
	if err := SetErasePolarity(0xFF); err != nil {
		t.Fatalf("SetErasePolarity: %v", err)
	}

	var first bytes.Buffer
	mustWriteNVar(t, &first, uint32(NVarEntrySignature))
	mustWriteNVar(t, &first, uint16(0)) // Size, patched below
	mustWriteNVar(t, &first, [3]uint8{0xFF, 0xFF, 0xFF})
	mustWriteNVar(t, &first, NVarEntryValid|NVarEntryGUID|NVarEntryASCIIName)
	mustWriteNVar(t, &first, FFS2) // stand-in inline GUID
	first.WriteString("VAR1")
	first.WriteByte(0)
	first.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	firstBuf := first.Bytes()
	binary.LittleEndian.PutUint16(firstBuf[4:6], uint16(len(firstBuf)))

	var second bytes.Buffer
	mustWriteNVar(t, &second, uint32(NVarEntrySignature))
	mustWriteNVar(t, &second, uint16(0)) // Size, patched below
	mustWriteNVar(t, &second, [3]uint8{0xFF, 0xFF, 0xFF})
	mustWriteNVar(t, &second, NVarEntryValid|NVarEntryDataOnly)
	second.Write([]byte{0x01, 0x02, 0x03, 0x04})
	secondBuf := second.Bytes()
	binary.LittleEndian.PutUint16(secondBuf[4:6], uint16(len(secondBuf)))

	store, err := NewNVarStore(append(append([]byte{}, firstBuf...), secondBuf...))
	if err != nil {
		t.Fatalf("NewNVarStore: %v", err)
	}
	if len(store.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(store.Entries))
	}

	v1 := store.Entries[0]
	if v1.Type != FullNVarEntry {
		t.Fatalf("entry 1 type = %v, want FullNVarEntry", v1.Type)
	}
	if v1.GUID != *FFS2 {
		t.Fatalf("entry 1 GUID = %v, want %v", v1.GUID, *FFS2)
	}
	if v1.Name != "VAR1" {
		t.Fatalf("entry 1 name = %q, want VAR1", v1.Name)
	}

	v2 := store.Entries[1]
	if v2.GUIDIndex != nil {
		t.Fatalf("entry 2 GUIDIndex = %v, want nil", v2.GUIDIndex)
	}
	if v2.GUID != (guid.GUID{}) {
		t.Fatalf("entry 2 GUID = %v, want the zero GUID", v2.GUID)
	}
	if v2.Type != InvalidLinkNVarEntry {
		t.Fatalf("entry 2 type = %v, want InvalidLinkNVarEntry (no preceding link resolves to one)", v2.Type)
	}
}

func TestNewNVarStoreEmpty(t *testing.T) {
	if err := SetErasePolarity(0xFF); err != nil {
		t.Fatalf("SetErasePolarity: %v", err)
	}
	store, err := NewNVarStore(bytes.Repeat([]byte{0xFF}, 32))
	if err != nil {
		t.Fatalf("NewNVarStore: %v", err)
	}
	if len(store.Entries) != 0 {
		t.Fatalf("expected no entries in an erased store, got %d", len(store.Entries))
	}
	if store.FreeSpaceOffset != 0 {
		t.Fatalf("FreeSpaceOffset = %#x, want 0", store.FreeSpaceOffset)
	}
}

func TestNewNVarStoreRejectsBadSignature(t *testing.T) {
	if _, err := NewNVarStore([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected an error for a buffer lacking the NVAR signature")
	}
}
