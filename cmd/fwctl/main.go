// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The fwctl command performs operations on a firmware image: UEFI firmware
// volumes, Intel flash images and ME containers, Dell PFS updates, and EFI
// capsules, dispatched automatically from the bytes themselves.
//
// Synopsis:
//
//	fwctl [OPTIONS] <path> <operation> [args...] [<operation> [args...]]...
//
// Examples:
//
//	# Dump everything to JSON:
//	fwctl winterfell.rom json
//
//	# Dump GUIDs and sizes to a compact table:
//	fwctl winterfell.rom table
//
//	# Extract everything into a directory:
//	fwctl winterfell.rom extract winterfell/
//
//	# Linear _FVH scan independent of the recognized structure:
//	fwctl winterfell.rom brute
//
// Operations are listed with fwctl --help.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/fwaudit/firmcore/pkg/auto"
	"github.com/fwaudit/firmcore/pkg/uefi"
	"github.com/fwaudit/firmcore/pkg/visitors"
)

// options are the flags fwctl accepts ahead of the positional path and
// pipelined operations.
type options struct {
	MaxDepth uint `long:"max-depth" default:"32" description:"maximum recursion depth into nested sections/volumes before failing with DepthExceeded"`

	Positional struct {
		Path       string   `positional-arg-name:"path" description:"firmware image to operate on"`
		Operations []string `positional-arg-name:"operation" description:"pipelined operations and their arguments, e.g. 'json' or 'extract DIR'"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] <path> <operation> [args...] [<operation> [args...]]...\n\n" + visitors.ListCLI()
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	uefi.MaxDepth = int(opts.MaxDepth)

	ops, err := visitors.ParseCLI(opts.Positional.Operations)
	if err != nil {
		return err
	}

	image, err := os.ReadFile(opts.Positional.Path)
	if err != nil {
		return err
	}
	root, err := auto.AutoParser(image)
	if err != nil {
		return fmt.Errorf("unable to parse %q: %w", opts.Positional.Path, err)
	}

	return visitors.ExecuteCLI(root, ops)
}
