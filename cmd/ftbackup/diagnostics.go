package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/ftbackup/ftbackup/internal/ftbreader"
)

func cmdDumpRecord(args []string) error {
	fs := flag.NewFlagSet("dumprecord", flag.ExitOnError)
	password := fs.String("password", "", "saveset password")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: ftbackup dumprecord [-flags] <saveset> <seqno>")
	}
	seqno, err := strconv.ParseUint(fs.Arg(1), 10, 32)
	if err != nil {
		return fmt.Errorf("ftbackup: invalid seqno %q: %w", fs.Arg(1), err)
	}
	framer, err := newFramer(*password)
	if err != nil {
		return err
	}
	rd := ftbreader.New(ftbreader.WithFramer(framer))

	out, err := rd.DumpRecord(fs.Arg(0), uint32(seqno))
	if err != nil {
		return fmt.Errorf("ftbackup: dumprecord: %w", err)
	}
	fmt.Println(out)
	return nil
}

func cmdXorVfy(args []string) error {
	fs := flag.NewFlagSet("xorvfy", flag.ExitOnError)
	password := fs.String("password", "", "saveset password")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: ftbackup xorvfy [-flags] <saveset>")
	}
	framer, err := newFramer(*password)
	if err != nil {
		return err
	}
	rd := ftbreader.New(ftbreader.WithFramer(framer))

	report, err := rd.VerifyXOR(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("ftbackup: xorvfy: %w", err)
	}
	fmt.Printf("%d parity groups checked\n", report.GroupsChecked)
	for _, m := range report.Mismatches {
		fmt.Printf("mismatch: %s\n", m)
	}
	if len(report.Mismatches) > 0 {
		return fmt.Errorf("ftbackup: xorvfy: %d mismatch(es)", len(report.Mismatches))
	}
	return nil
}
