// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command scadump inspects a persistent Shared Compiled-code Archive file
// without needing a live compiler/runtime process behind it: header,
// entry catalog, and string-pool statistics only (no symbolic resolution,
// since that needs a real ClassResolver). Its command/flag layout is
// grounded on the teacher's cmd/pedumper.go: one root command, a version
// subcommand, and a dump subcommand taking boolean "dump this section"
// flags plus a positional path argument.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gojit/scarchive"
)

var (
	verbose     bool
	wantHeader  bool
	wantEntries bool
	wantStrings bool
	wantAll     bool
)

func prettyPrint(v interface{}) string {
	buf, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(buf)
}

func dumpArchive(path string) error {
	addrTable := scarchive.NewAddressTable(0, nil, nil)
	addrTable.MarkBasePhaseComplete()
	addrTable.MarkCompilerPhaseComplete()

	a, err := scarchive.OpenForRead(scarchive.Config{Path: path, AddressTable: addrTable})
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer a.Close(0)

	if verbose {
		fmt.Fprintf(os.Stderr, "opened %s: state=%s\n", path, a.State())
	}

	if wantHeader || wantAll {
		fmt.Println(prettyPrint(a.Header()))
	}

	if wantEntries || wantAll {
		fmt.Println(prettyPrint(a.Entries()))
	}

	if wantStrings || wantAll {
		fmt.Println(prettyPrint(a.StringPoolStats()))
	}

	return nil
}

func runDump(cmd *cobra.Command, args []string) {
	for _, path := range args {
		if err := dumpArchive(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "scadump",
		Short: "Inspect a persistent shared compiled-code archive",
		Long:  "scadump dumps the header, entry catalog, and string pool of a scarchive file",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scadump: archive format version %d\n", scarchive.ArchiveVersion)
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump [archive ...]",
		Short: "Dump one or more archive files",
		Args:  cobra.MinimumNArgs(1),
		Run:   runDump,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	dumpCmd.Flags().BoolVar(&wantHeader, "header", false, "dump the archive header")
	dumpCmd.Flags().BoolVar(&wantEntries, "entries", false, "dump the entry catalog")
	dumpCmd.Flags().BoolVar(&wantStrings, "strings", false, "dump string pool statistics")
	dumpCmd.Flags().BoolVar(&wantAll, "all", false, "dump everything")

	rootCmd.AddCommand(versionCmd, dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
