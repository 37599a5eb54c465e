package main

import (
	"flag"
	"fmt"

	"github.com/ftbackup/ftbackup"
	"github.com/ftbackup/ftbackup/internal/ftbfsaccess"
	"github.com/ftbackup/ftbackup/internal/ftbreader"
)

func cmdCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	password := fs.String("password", "", "saveset password")
	verbose := fs.Bool("verbose", false, "print the name of each file compared")
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: ftbackup compare [-flags] <saveset> <destdir> [savewildcard [-to mapping] ...]")
	}
	savesetPath, destDir := fs.Arg(0), fs.Arg(1)

	sel, err := selectorsFromArgs(fs.Args()[2:])
	if err != nil {
		return err
	}
	framer, err := newFramer(*password)
	if err != nil {
		return err
	}

	opts := []ftbreader.Option{
		ftbreader.WithFramer(framer),
		ftbreader.WithFSAccess(ftbfsaccess.NewCompare()),
		ftbreader.WithSelectors(sel),
	}
	if *verbose {
		opts = append(opts, ftbreader.WithProgress(func(path string, done, total int64) {
			fmt.Printf("%s\n", path)
		}))
	}

	rd := ftbreader.New(opts...)
	ctx, canc := ftbackup.InterruptibleContext()
	defer canc()
	if err := rd.Compare(ctx, savesetPath, destDir); err != nil {
		return fmt.Errorf("ftbackup: compare: %w", err)
	}
	return nil
}
