package main

import (
	"flag"
	"fmt"

	"github.com/ftbackup/ftbackup"
	"github.com/ftbackup/ftbackup/internal/ftbfsaccess"
	"github.com/ftbackup/ftbackup/internal/ftbmatch"
	"github.com/ftbackup/ftbackup/internal/ftbreader"
)

// selectorsFromArgs turns the flag package's trailing
// "<savewildcard> [-to <mapping>]" pairs into ftbmatch.Selectors, the CLI
// shape original_source/ftbackup.cpp's restore/compare verbs use.
func selectorsFromArgs(args []string) ([]ftbmatch.Selector, error) {
	var sel []ftbmatch.Selector
	for i := 0; i < len(args); i++ {
		pattern := args[i]
		mapping := pattern
		if i+2 < len(args) && args[i+1] == "-to" {
			mapping = args[i+2]
			i += 2
		}
		sel = append(sel, ftbmatch.NewSelector(pattern, mapping))
	}
	return sel, nil
}

func cmdRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	password := fs.String("password", "", "saveset password")
	incremental := fs.Bool("incremental", false, "delete destination entries absent from the saveset")
	overwrite := fs.Bool("overwrite", false, "overwrite existing files at the destination")
	mkdirs := fs.Bool("mkdirs", true, "create missing parent directories")
	verbose := fs.Bool("verbose", false, "print the name of each file restored")
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: ftbackup restore [-flags] <saveset> <destdir> [savewildcard [-to mapping] ...]")
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
		ftbreader.WithFSAccess(ftbfsaccess.NewFull()),
		ftbreader.WithSelectors(sel),
		ftbreader.WithIncremental(*incremental),
		ftbreader.WithOverwrite(*overwrite),
		ftbreader.WithMkdirs(*mkdirs),
		ftbreader.WithPrompt(ftbreader.TTYPrompt()),
	}
	if *verbose {
		opts = append(opts, ftbreader.WithProgress(func(path string, done, total int64) {
			fmt.Printf("%s\n", path)
		}))
	}

	rd := ftbreader.New(opts...)
	ctx, canc := ftbackup.InterruptibleContext()
	defer canc()
	if err := rd.Restore(ctx, savesetPath, destDir); err != nil {
		return fmt.Errorf("ftbackup: restore: %w", err)
	}
	return nil
}
