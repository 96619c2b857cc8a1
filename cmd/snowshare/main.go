package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"snowshare/internal/client"
)

func main() {
	opts, err := client.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.NewClient(opts.Server, opts.Token, nil)

	if opts.Delete != "" {
		if err := c.Delete(ctx, opts.Delete); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Deleted %s\n", opts.Delete)
		return
	}

	filetree, err := client.BuildFiletree(opts.Paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building filetree: %v\n", err)
		os.Exit(1)
	}

	files := filetree.FlattenTree()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no files to upload")
		os.Exit(1)
	}
	payload := client.NewPayload(files, opts)
	fmt.Printf("Uploading %d file(s), %d bytes...\n", payload.FileCount(), filetree.TotalSize())

	share, err := c.Upload(ctx, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Shared %d file(s)\n", share.FileCount)
	fmt.Println(share.URL)
	if share.ExpiresAt != nil {
		fmt.Printf("  expires %s\n", share.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
}
