// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FlashDescriptorMapSize is the size of the descriptor map, found right after
// the flash signature. It is made up of 7 pairs of (base, count) bytes plus
// two reserved bytes.
const FlashDescriptorMapSize = 16

// FlashDescriptorMapMaxBase is the largest valid value for any of the *Base
// fields, since each points to a 16-byte block inside the 4KiB descriptor.
const FlashDescriptorMapMaxBase = 0xe0

// FlashDescriptorMap holds the offsets (as 16-byte block indices) of every
// other structure that hangs off the Intel Flash Descriptor: the region
// section, master access section, and the straps/tables that this package
// does not otherwise parse.
type FlashDescriptorMap struct {
	ComponentBase           uint8
	NumberOfFlashChips      uint8
	RegionBase              uint8
	NumberOfRegions         uint8
	MasterBase              uint8
	NumberOfMasters         uint8
	PchStrapsBase           uint8
	NumberOfPchStraps       uint8
	ProcStrapsBase          uint8
	NumberOfProcStraps      uint8
	IccTableBase            uint8
	NumberOfIccTableEntries uint8
	DmiTableBase            uint8
	NumberOfDmiTableEntries uint8
	ReservedZero            uint16
}

func (m *FlashDescriptorMap) String() string {
	return fmt.Sprintf("FlashDescriptorMap{RegionBase=%#x, NumberOfRegions=%d, MasterBase=%#x, NumberOfMasters=%d}",
		m.RegionBase, m.NumberOfRegions, m.MasterBase, m.NumberOfMasters)
}

// NewFlashDescriptorMap initializes a FlashDescriptorMap from a slice of bytes.
func NewFlashDescriptorMap(data []byte) (*FlashDescriptorMap, error) {
	if len(data) < FlashDescriptorMapSize {
		return nil, fmt.Errorf("flash Descriptor Map size too small: expected %v bytes, got %v",
			FlashDescriptorMapSize,
			len(data),
		)
	}
	var m FlashDescriptorMap
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
