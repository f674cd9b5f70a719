// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uefi

// Visitor holds a visit operation over the Firmware tree. A Firmware node
// calls Visit on itself to apply the operation; Visit typically recurses
// into children by calling ApplyChildren.
type Visitor interface {
	// Run wraps Visit with any setup and teardown the particular visitor
	// needs, and is the entry point callers should use.
	Run(f Firmware) error

	// Visit applies the operation to a single Firmware node.
	Visit(f Firmware) error
}
