// Copyright 2021 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package me

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/fwaudit/firmcore/pkg/uefi"
)

func buildFPTImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("$FPT")
	hdr := struct {
		NumFptEntries      uint32
		HeaderVersion      uint8
		EntryVersion       uint8
		HeaderLength       uint8
		HeaderChecksum     uint8
		TicksToAdd         uint16
		TokensToAdd        uint16
		UMASizeOrReserved  uint32
		FlashLayoutOrFlags uint32
		FitcMajor          uint16
		FitcMinor          uint16
		FitcHotfix         uint16
		FitcBuild          uint16
	}{
		NumFptEntries: 1,
		HeaderVersion: 0x20,
		HeaderLength:  0x20,
	}
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	entry := FlashPartitionTableEntry{Length: 16}
	copy(entry.Name[:], "DATA")
	if err := binary.Write(&buf, binary.LittleEndian, &entry); err != nil {
		t.Fatal(err)
	}
	buf.Write(make([]byte, 16))
	return buf.Bytes()
}

func TestMatchDirect(t *testing.T) {
	if !Match([]byte("$FPT")) {
		t.Fatal("expected Match to accept a buffer starting with $FPT")
	}
	if Match([]byte("nope")) {
		t.Fatal("expected Match to reject an unrelated prefix")
	}
}

func TestMatchLegacyPadding(t *testing.T) {
	prefix := append(make([]byte, 16), []byte("$FPT")...)
	if !Match(prefix) {
		t.Fatal("expected Match to accept the 16-byte legacy-padded $FPT prefix")
	}
}

func TestNewParsesFlashPartitionTable(t *testing.T) {
	image := buildFPTImage(t)
	m, err := New(image, 0x1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Position() != 0x1000 {
		t.Fatalf("expected Position 0x1000, got %#x", m.Position())
	}
	if !bytes.Equal(m.Buf(), image) {
		t.Fatal("expected Buf() to return the original image bytes")
	}
	parts := m.LsPartitions()
	if len(parts) != 1 || parts[0] != "DATA" {
		t.Fatalf("expected a single DATA partition, got %v", parts)
	}
}

func TestNewRejectsMissingFPT(t *testing.T) {
	if _, err := New([]byte("nothing to see here"), 0); err == nil {
		t.Fatal("expected an error when no $FPT marker is present")
	}
}

func TestApplyChildrenIsNoop(t *testing.T) {
	image := buildFPTImage(t)
	m, err := New(image, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cv := &countingVisitor{}
	if err := m.ApplyChildren(cv); err != nil {
		t.Fatalf("ApplyChildren: %v", err)
	}
	if cv.visited {
		t.Fatal("expected ApplyChildren to be a no-op, but it called the visitor")
	}
}

type countingVisitor struct {
	visited bool
}

func (v *countingVisitor) Run(f uefi.Firmware) error { return v.Visit(f) }
func (v *countingVisitor) Visit(f uefi.Firmware) error {
	v.visited = true
	return nil
}
