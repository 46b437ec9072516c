package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/tagdeck/host/internal/server"
)

// WriteConfig holds the configuration for the write command.
type WriteConfig struct {
	Addr     string
	Port     int
	WithName bool
	NoWait   bool
	Timeout  time.Duration
}

func runWrite(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &WriteConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Daemon address (default: 127.0.0.1:<port>)")
	fs.IntVar(&cfg.Port, "port", defaultPort, "Daemon port")
	fs.BoolVar(&cfg.WithName, "with-name", false, "Also write the card name onto the tag (needs the card cached)")
	fs.BoolVar(&cfg.NoWait, "no-wait", false, "Fail immediately when no tag is on the reader")
	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "How long to wait for a tag")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck write [options] <passcode>\n\nEncode a card onto the tag on the reader, via the running daemon.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  tagdeck write 46986414\n")
		fmt.Fprintf(stderr, "  tagdeck write --with-name 46986414\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one passcode is required")
		fs.Usage()
		return 1
	}
	passcode := fs.Arg(0)

	if err := validatePort(cfg.Port); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}

	// Confirm a daemon is there before the longer tag wait.
	if _, err := queryHostStatus(addr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "\nStart it with: tagdeck start\n")
		return 1
	}

	tag, err := queryTag(addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if tag.Tag == nil {
		if cfg.NoWait {
			fmt.Fprintf(stderr, "Error: no tag on the reader (state: %s)\n", tag.State)
			return 1
		}
		fmt.Fprintln(stdout, "Waiting for a tag... (place one on the reader)")
		if tag, err = waitForTag(addr, cfg.Timeout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(stdout, "Tag %s present.\n", tag.Tag.UID)

	result, err := postWrite(addr, server.WriteRequest{
		Passcode: passcode,
		WithName: cfg.WithName,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if result.Name != "" {
		fmt.Fprintf(stdout, "Wrote %s (%s) to tag %s.\n", result.Passcode, result.Name, result.UID)
	} else {
		fmt.Fprintf(stdout, "Wrote %s to tag %s.\n", result.Passcode, result.UID)
	}
	fmt.Fprintf(stdout, "Frame version: %d\n", result.Version)
	return 0
}
