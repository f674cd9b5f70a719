// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guid implements the mixed-endian GUID as implemented by Microsoft.
package guid

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

const (
	// Size represents number of bytes in a GUID
	Size = 16
	// UExample is a example of a string GUID
	UExample  = "01234567-89AB-CDEF-0123-456789ABCDEF"
	textLen   = len(UExample)
	strFormat = "%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X"
)

// fields describes the byte layout of a GUID as it appears on the wire:
// Data1 (4 bytes), Data2 (2 bytes), Data3 (2 bytes), then the 8 bytes of
// Data4 taken one at a time. The first three fields are little-endian
// integers in the Microsoft encoding but are always displayed big-endian
// in string form, so each of those three spans gets byte-reversed on the
// way in and out; the single-byte Data4 spans are their own reverse and
// exist in this list only so the loop below doesn't need a special case.
var (
	fields = [...]int{4, 2, 2, 1, 1, 1, 1, 1, 1, 1, 1}
)

// GUID represents a unique identifier.
type GUID [Size]byte

// IsZero reports whether a GUID is the all-zero value, which firmware
// images use as a sentinel for "no GUID" (an unlinked NVAR entry, a GUID
// store lookup that ran off the end of the buffer, and similar fallbacks).
func (u GUID) IsZero() bool {
	return u == GUID{}
}

func reverse(b []byte) {
	for i := 0; i < len(b)/2; i++ {
		other := len(b) - i - 1
		b[other], b[i] = b[i], b[other]
	}
}

// Parse parses a guid string.
func Parse(s string) (*GUID, error) {
	// remove all hyphens to make it easier to parse.
	stripped := strings.Replace(s, "-", "", -1)
	decoded, err := hex.DecodeString(stripped)
	if err != nil {
		return nil, fmt.Errorf("guid string not correct, need string of the format \n%v\n, got \n%v",
			UExample, s)
	}

	if len(decoded) != Size {
		return nil, fmt.Errorf("guid string has incorrect length, need string of the format \n%v\n, got \n%v",
			UExample, s)
	}

	u := GUID{}
	i := 0
	copy(u[:], decoded[:])
	// Correct for endianness.
	for _, fieldlen := range fields {
		reverse(u[i : i+fieldlen])
		i += fieldlen
	}
	return &u, nil
}

// MustParse parses a guid string; on error it logs the error with log.Fatal,
// which exits the program.
func MustParse(s string) *GUID {
	guid, err := Parse(s)
	if err != nil {
		log.Fatal(err)
	}
	return guid
}

func (u GUID) String() string {
	// Not a pointer receiver so we don't have to manually copy.
	i := 0
	// reverse endianness.
	for _, fieldlen := range fields {
		reverse(u[i : i+fieldlen])
		i += fieldlen
	}
	// Convert to []interface{} for easy printing.
	b := make([]interface{}, Size)
	for i := range u[:] {
		b[i] = u[i]
	}
	return fmt.Sprintf(strFormat, b...)
}

// MarshalJSON implements the marshaller interface.
// This allows us to actually read and edit the json file
func (u *GUID) MarshalJSON() ([]byte, error) {
	return []byte(`{"GUID" : "` + u.String() + `"}`), nil
}

// UnmarshalJSON implements the unmarshaller interface.
// This allows us to actually read and edit the json file
func (u *GUID) UnmarshalJSON(b []byte) error {
	j := make(map[string]string)

	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	g, err := Parse(j["GUID"])
	if err != nil {
		return err
	}
	copy(u[:], g[:])
	return nil
}
