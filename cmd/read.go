package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/tagdeck/host/internal/server"
)

// ReadConfig holds the configuration for the read command.
type ReadConfig struct {
	Addr    string
	Port    int
	Wait    bool
	Timeout time.Duration
	JSON    bool
}

func runRead(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ReadConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Daemon address (default: 127.0.0.1:<port>)")
	fs.IntVar(&cfg.Port, "port", defaultPort, "Daemon port")
	fs.BoolVar(&cfg.Wait, "wait", false, "Wait for a tag instead of failing when none is present")
	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "How long to wait with --wait")
	fs.BoolVar(&cfg.JSON, "json", false, "Print the raw JSON answer")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck read [options]\n\nShow the tag on the reader, decoded and matched against the cache.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if err := validatePort(cfg.Port); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}

	tag, err := queryTag(addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "\nStart the daemon with: tagdeck start\n")
		return 1
	}

	if tag.Tag == nil && cfg.Wait {
		fmt.Fprintln(stderr, "Waiting for a tag... (place one on the reader)")
		if tag, err = waitForTag(addr, cfg.Timeout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if cfg.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tag); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if tag.Tag == nil {
		fmt.Fprintf(stdout, "No tag on the reader (state: %s).\n", tag.State)
		return 0
	}

	renderTag(stdout, tag.Tag)
	return 0
}

// renderTag prints a hydrated tag query answer.
func renderTag(out io.Writer, tag *server.TagPresentPayload) {
	fmt.Fprintf(out, "Tag:  %s\n", tag.UID)

	if tag.DecodeError != "" {
		fmt.Fprintf(out, "  Contents: unreadable (%s)\n", tag.DecodeError)
		return
	}
	if tag.Identity == nil {
		fmt.Fprintln(out, "  Contents: empty")
		return
	}

	id := tag.Identity
	fmt.Fprintf(out, "  Frame version: %d\n", id.Version)
	if id.Passcode != "" {
		fmt.Fprintf(out, "  Passcode:      %s\n", id.Passcode)
	}
	if id.KonamiID != "" {
		fmt.Fprintf(out, "  Konami ID:     %s\n", id.KonamiID)
	}
	if id.Name != "" {
		fmt.Fprintf(out, "  Name on tag:   %s\n", id.Name)
	}
	if id.SetCode != "" || id.Number != "" {
		fmt.Fprintf(out, "  Printing:      %s %s\n", id.SetCode, id.Number)
	}
	if id.Rarity != "" {
		fmt.Fprintf(out, "  Rarity:        %s\n", id.Rarity)
	}
	if id.Edition != "" {
		fmt.Fprintf(out, "  Edition:       %s\n", id.Edition)
	}
	if id.Language != "" {
		fmt.Fprintf(out, "  Language:      %s\n", id.Language)
	}

	if tag.Card != nil {
		fmt.Fprintf(out, "  Card:          %s (cached, id %d)\n", tag.Card.Name, tag.Card.ID)
	} else {
		fmt.Fprintln(out, "  Card:          not in the local cache")
	}
}
