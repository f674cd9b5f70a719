// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

// LZMAX86 implements Compressor by running the reversible x86 BCJ (branch/
// call/jump) address filter before compressing and after decompressing with
// an inner LZMA-family Compressor. PE32 images compress noticeably better
// once relative CALL/JMP targets are converted to absolute addresses, which
// is why EDK2 tags this variant with its own GUIDed-section GUID rather than
// reusing the plain LZMA one.
type LZMAX86 struct {
	Inner Compressor
}

// Name returns the type of compression employed.
func (c *LZMAX86) Name() string {
	return c.Inner.Name() + "X86"
}

// Decode decodes a byte slice, undoing the x86 filter after decompression.
func (c *LZMAX86) Decode(encodedData []byte) ([]byte, error) {
	decoded, err := c.Inner.Decode(encodedData)
	if err != nil {
		return nil, err
	}
	x86Decode(decoded)
	return decoded, nil
}

// Encode encodes a byte slice, applying the x86 filter before compression.
func (c *LZMAX86) Encode(decodedData []byte) ([]byte, error) {
	filtered := make([]byte, len(decodedData))
	copy(filtered, decodedData)
	x86Encode(filtered)
	return c.Inner.Encode(filtered)
}

// x86MaskToAllowedStatus mirrors the state machine from the public-domain
// 7-Zip/xz BCJ x86 filter: a CALL/JMP (0xE8/0xE9) opcode is convertible only
// if the preceding few bytes did not themselves look like the tail of an
// already-converted address.
var x86MaskToAllowedStatus = [8]bool{true, true, true, false, true, false, false, false}
var x86MaskToBitNumber = [8]uint32{0, 1, 2, 2, 3, 3, 3, 3}

func x86Test(b byte) bool {
	return b == 0x00 || b == 0xFF
}

// x86Convert implements the in-place, reversible x86 BCJ filter shared by
// encode and decode; encoding=true converts relative->absolute addresses,
// encoding=false undoes it.
func x86Convert(data []byte, encoding bool) {
	if len(data) < 5 {
		return
	}
	var prevMask uint32
	prevPos := -5
	limit := len(data) - 4
	for i := 0; i < limit; {
		if data[i]&0xFE != 0xE8 {
			i++
			continue
		}
		off := i - prevPos
		prevPos = i
		if off > 3 {
			prevMask = 0
		} else {
			prevMask = (prevMask << (uint(off) - 1)) & 0x7
			if prevMask != 0 {
				b := data[i+4-int(x86MaskToBitNumber[prevMask])]
				if !x86MaskToAllowedStatus[prevMask] || x86Test(b) {
					prevMask = ((prevMask << 1) & 0x7) | 1
					i++
					continue
				}
			}
		}
		if x86Test(data[i+4]) {
			src := uint32(data[i+1]) | uint32(data[i+2])<<8 | uint32(data[i+3])<<16 | uint32(data[i+4])<<24
			var dest uint32
			for {
				if encoding {
					dest = src + uint32(i) + 5
				} else {
					dest = src - uint32(i) - 5
				}
				if prevMask == 0 {
					break
				}
				idx := x86MaskToBitNumber[prevMask] * 8
				b := byte(dest >> (24 - idx))
				if !x86Test(b) {
					break
				}
				src = dest ^ ((1 << (32 - idx)) - 1)
			}
			data[i+4] = byte(^(((dest >> 24) & 1) - 1))
			data[i+3] = byte(dest >> 16)
			data[i+2] = byte(dest >> 8)
			data[i+1] = byte(dest)
			i += 5
		} else {
			prevMask = ((prevMask << 1) & 0x7) | 1
			i++
		}
	}
}

func x86Encode(data []byte) { x86Convert(data, true) }
func x86Decode(data []byte) { x86Convert(data, false) }
