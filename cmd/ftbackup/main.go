// Command ftbackup wires internal/ftbwriter, internal/ftbreader,
// internal/ftbfsaccess and internal/ftbmatch together behind a handful of
// flag-parsed subcommands: backup, restore, compare, list, dumprecord,
// xorvfy. Cipher/Hasher catalogs are out of scope for the core packages
// (spec.md §1), so this command supplies one concrete pair (SHA-256 and,
// optionally, AES) the way cmd/distri's build.go reaches for
// crypto/sha256 directly rather than adding a hashing abstraction.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func funcmain() error {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	verb, rest := args[0], args[1:]
	switch verb {
	case "backup":
		return cmdBackup(rest)
	case "restore":
		return cmdRestore(rest)
	case "compare":
		return cmdCompare(rest)
	case "list":
		return cmdList(rest)
	case "dumprecord":
		return cmdDumpRecord(rest)
	case "xorvfy":
		return cmdXorVfy(rest)
	default:
		usage()
		return fmt.Errorf("ftbackup: unknown command %q", verb)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `ftbackup <command> [-flags] <args>

Commands:
  backup     <saveset> <dir>        write a saveset from a directory tree
  restore    <saveset> <destdir>    restore a saveset into a directory tree
  compare    <saveset> <destdir>    compare a saveset against a directory tree
  list       <saveset>              list the headers in a saveset
  dumprecord <saveset> <seqno>      dump one physical block's fields
  xorvfy     <saveset>              verify every XOR parity group

Use ftbackup <command> -help for a command's own flags.
`)
}
