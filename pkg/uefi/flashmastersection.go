// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FlashMasterSectionSize is the size of the Master Access Section, made up of
// 3 (requester ID, read mask, write mask) triples.
const FlashMasterSectionSize = 12

// FlashMasterSection describes which bus master (BIOS, ME, GbE) may read or
// write each flash region, as a bitmask over region indices.
type FlashMasterSection struct {
	BiosID    uint16
	BiosRead  uint8
	BiosWrite uint8
	MeID      uint16
	MeRead    uint8
	MeWrite   uint8
	GbeID     uint16
	GbeRead   uint8
	GbeWrite  uint8
}

func (m *FlashMasterSection) String() string {
	return fmt.Sprintf("FlashMasterSection{BiosRead=%#x, BiosWrite=%#x, MeRead=%#x, MeWrite=%#x, GbeRead=%#x, GbeWrite=%#x}",
		m.BiosRead, m.BiosWrite, m.MeRead, m.MeWrite, m.GbeRead, m.GbeWrite)
}

// NewFlashMasterSection initializes a FlashMasterSection from a slice of bytes.
func NewFlashMasterSection(data []byte) (*FlashMasterSection, error) {
	if len(data) < FlashMasterSectionSize {
		return nil, fmt.Errorf("flash Master Section size too small: expected %v bytes, got %v",
			FlashMasterSectionSize,
			len(data),
		)
	}
	var m FlashMasterSection
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
