// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import "github.com/fwaudit/firmcore/pkg/tiano"

// TianoEFI implements Compressor for the original "EFI 1.1" decompression
// algorithm (compression type 1 with a 4-bit position-table count field).
type TianoEFI struct{}

// Name returns the type of compression employed.
func (c *TianoEFI) Name() string {
	return "EFI_STANDARD"
}

// Decode decodes a byte slice compressed with the EFI 1.1 algorithm.
func (c *TianoEFI) Decode(encodedData []byte) ([]byte, error) {
	return tiano.Decompress(tiano.EFI, encodedData)
}

// Encode encodes a byte slice with the EFI 1.1 algorithm.
func (c *TianoEFI) Encode(decodedData []byte) ([]byte, error) {
	return tiano.Compress(tiano.EFI, decodedData)
}

// TianoCompress implements Compressor for the later "Tiano" variant (a 5-bit
// position-table count field; the match window is the same as EFI's).
type TianoCompress struct{}

// Name returns the type of compression employed.
func (c *TianoCompress) Name() string {
	return "TIANO"
}

// Decode decodes a byte slice compressed with the Tiano algorithm.
func (c *TianoCompress) Decode(encodedData []byte) ([]byte, error) {
	return tiano.Decompress(tiano.Tiano, encodedData)
}

// Encode encodes a byte slice with the Tiano algorithm.
func (c *TianoCompress) Encode(decodedData []byte) ([]byte, error) {
	return tiano.Compress(tiano.Tiano, decodedData)
}

// SizedTiano wraps an EFI/Tiano variant together with an uncompressed size
// known externally (e.g. from a Compression section's own 5-byte header),
// since the bare bitstream has no self-terminating length field of its own.
type SizedTiano struct {
	Variant tiano.Variant
	Size    int
}

// Name returns the type of compression employed.
func (c *SizedTiano) Name() string {
	if c.Variant == tiano.Tiano {
		return "TIANO"
	}
	return "EFI_STANDARD"
}

// Decode decodes encodedData, stopping once Size decompressed bytes have
// been produced.
func (c *SizedTiano) Decode(encodedData []byte) ([]byte, error) {
	return tiano.DecompressSized(c.Variant, encodedData, c.Size)
}

// Encode encodes decodedData, dropping the 8-byte size header Compress
// prepends since the caller already carries the size externally.
func (c *SizedTiano) Encode(decodedData []byte) ([]byte, error) {
	full, err := tiano.Compress(c.Variant, decodedData)
	if err != nil {
		return nil, err
	}
	return full[8:], nil
}

// TryDecompress runs each candidate in order and returns the first
// successful decode. It exists for the cases where a section's compression
// type does not unambiguously name one algorithm: type 0x01 covers both the
// EFI and Tiano variants, which share a header and differ only in how the
// match-offset table is coded, so the only way to tell them apart is to
// attempt both and see which one decodes cleanly.
func TryDecompress(candidates []Compressor, data []byte) (int, []byte, bool) {
	for i, c := range candidates {
		out, err := c.Decode(data)
		if err == nil {
			return i, out, true
		}
	}
	return -1, nil, false
}
