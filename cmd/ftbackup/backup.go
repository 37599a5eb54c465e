package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/ftbackup/ftbackup"
	"github.com/ftbackup/ftbackup/internal/ftbwriter"
)

func cmdBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	blockSize := fs.Int("blocksize", 32*1024, "block size in bytes (power of two)")
	xorgc := fs.Uint("xorgc", 2, "XOR parity group count")
	xorsc := fs.Uint("xorsc", 31, "XOR parity span count")
	segSize := fs.Int64("segsize", 0, "segment size in bytes (0 disables segmentation)")
	password := fs.String("password", "", "saveset password (empty disables encryption)")
	since := fs.Int64("since", 0, "skip content with ctime before this Unix nanosecond timestamp")
	verbose := fs.Bool("verbose", false, "print the name of each file processed")
	verbsec := fs.Int("verbsec", 0, "print a file name at most once per this many seconds")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: ftbackup backup [-flags] <saveset> <dir>")
	}
	savesetPath, root := fs.Arg(0), fs.Arg(1)

	framer, err := newFramer(*password)
	if err != nil {
		return err
	}

	opts := []ftbwriter.Option{
		ftbwriter.WithBlockSize(*blockSize),
		ftbwriter.WithXOR(uint8(*xorgc), uint8(*xorsc)),
		ftbwriter.WithSegmentSize(*segSize),
		ftbwriter.WithFramer(framer),
		ftbwriter.WithVerboseSecs(*verbsec),
	}
	if *since > 0 {
		opts = append(opts, ftbwriter.WithSince(uint64(*since)))
	}
	if *verbose || *verbsec > 0 {
		opts = append(opts, ftbwriter.WithProgress(func(path string, done, total int64) {
			fmt.Printf("%s\n", path)
		}))
	}

	w := ftbwriter.New(opts...)
	ctx, canc := ftbackup.InterruptibleContext()
	defer canc()
	start := time.Now()
	if err := w.Backup(ctx, savesetPath, root); err != nil {
		return fmt.Errorf("ftbackup: backup: %w", err)
	}
	fmt.Printf("backup of %s written to %s in %s\n", root, savesetPath, time.Since(start).Round(time.Millisecond))
	return nil
}
