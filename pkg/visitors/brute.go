// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fwaudit/firmcore/pkg/uefi"
)

// fvSignature is the ASCII magic a firmware volume header carries 40 bytes
// into the volume.
var fvSignature = []byte("_FVH")

// bruteHeaderOffset is how far the volume itself starts before its _FVH
// signature.
const bruteHeaderOffset = 40

// BruteCandidate is one _FVH hit found by a Brute scan.
type BruteCandidate struct {
	// SignatureOffset is where the _FVH magic itself was found.
	SignatureOffset int
	// VolumeOffset is where the candidate volume is expected to start,
	// i.e. SignatureOffset-40.
	VolumeOffset int
}

// Brute performs a linear scan for _FVH magics independent of whatever
// container structure was recognized during parsing, for recovering
// volumes AutoParser's structured dispatch missed (corrupted headers,
// volumes embedded in a region this module does not otherwise model).
// It checks the 16-byte lattice and then the 8-byte half-offset lattice,
// which together cover every 8-byte-aligned offset from 8 on, and reports
// every hit, where uefi.FindFirmwareVolumeOffset (used by AutoParser's
// rescan) returns only the first.
type Brute struct {
	// JSON is written to this writer, if set.
	W io.Writer

	// Output
	Candidates []BruteCandidate
}

// Run wraps Visit and performs some setup and teardown tasks.
func (v *Brute) Run(f uefi.Firmware) error {
	if err := f.Apply(v); err != nil {
		return err
	}
	if v.W != nil {
		b, err := json.MarshalIndent(v.Candidates, "", "\t")
		if err != nil {
			return err
		}
		fmt.Fprintln(v.W, string(b))
	}
	return nil
}

// Visit scans the node's own buffer for _FVH hits; it does not recurse,
// since the point of a brute scan is to search raw bytes the structured
// tree may have mis-sliced or dropped.
func (v *Brute) Visit(f uefi.Firmware) error {
	buf := f.Buf()
	// 16-byte-aligned lattice, then the 8-byte half-offset lattice, so a
	// volume that only lines up on the odd alignment isn't missed.
	for _, start := range []int{16, 8} {
		for offset := start; offset+len(fvSignature) <= len(buf); offset += 16 {
			if !bytes.Equal(buf[offset:offset+len(fvSignature)], fvSignature) {
				continue
			}
			v.Candidates = append(v.Candidates, BruteCandidate{
				SignatureOffset: offset,
				VolumeOffset:    offset - bruteHeaderOffset,
			})
		}
	}
	return nil
}

func init() {
	RegisterCLI("brute", "linear scan for _FVH magics independent of the recognized structure", 0, func(args []string) (uefi.Visitor, error) {
		return &Brute{W: Stdout}, nil
	})
}
