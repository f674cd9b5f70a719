// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unicode converts between the UCS-2/UTF-16LE strings used by UEFI
// on-disk structures and Go's native UTF-8 strings.
package unicode

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/fwaudit/firmcore/pkg/log"
)

var ucs2 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// UCS2ToUTF8 decodes a little-endian UCS-2 byte slice into a UTF-8 string.
// The caller is expected to have already stripped any trailing NUL
// terminator from input.
func UCS2ToUTF8(input []byte) string {
	output, _, err := transform.Bytes(ucs2.NewDecoder(), input)
	if err != nil {
		log.Errorf("unable to decode UCS2 string: %v", err)
		return string(input)
	}
	return string(output)
}

// UTF8ToUCS2 encodes a UTF-8 string into a little-endian UCS-2 byte slice,
// appending a CHAR16 NUL terminator.
func UTF8ToUCS2(input string) []byte {
	output, _, err := transform.Bytes(ucs2.NewEncoder(), []byte(input+"\x00"))
	if err != nil {
		log.Errorf("unable to encode UCS2 string: %v", err)
		return []byte(input)
	}
	return output
}
