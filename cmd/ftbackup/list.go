package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ftbackup/ftbackup"
	"github.com/ftbackup/ftbackup/internal/ftbblock"
	"github.com/ftbackup/ftbackup/internal/ftbreader"
)

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	password := fs.String("password", "", "saveset password")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: ftbackup list [-flags] <saveset>")
	}
	savesetPath := fs.Arg(0)

	framer, err := newFramer(*password)
	if err != nil {
		return err
	}
	rd := ftbreader.New(ftbreader.WithFramer(framer))

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer tw.Flush()
	ctx, canc := ftbackup.InterruptibleContext()
	defer canc()
	err = rd.List(ctx, savesetPath, func(h *ftbblock.Header) error {
		fmt.Fprintf(tw, "%o\t%d\t%d\t%s\n", h.StMode, h.FileNo, h.Size, h.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ftbackup: list: %w", err)
	}
	return nil
}
