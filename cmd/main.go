package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `tagdeck - card database cache and NFC tag writer host

Usage:
  tagdeck <command> [options]

Commands:
  start         Start the host daemon (reader monitor + companion server)
  search        Search the card database (--local for the cache)
  show <id>     Show a cached or remote card by identifier
  write <passcode>  Encode a card onto the next presented tag
  read          Read and decode the currently presented tag
  pair          Generate a pairing code for a companion device
  devices list  List paired companion devices
  devices revoke <device-id>  Revoke a companion device token
  codes import <file>  Import a catalog-id/passcode mapping CSV
  doctor        Diagnose reader, storage, and network readiness
  version       Print the tagdeck version

Run 'tagdeck <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "search":
		return runSearch(args[2:], stdout, stderr)
	case "show":
		return runShow(args[2:], stdout, stderr)
	case "write":
		return runWrite(args[2:], stdout, stderr)
	case "read":
		return runRead(args[2:], stdout, stderr)
	case "pair":
		return runPair(args[2:], stdout, stderr)
	case "devices":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: tagdeck devices <list|revoke>")
			return 1
		}
		switch args[2] {
		case "list":
			return runDevicesList(args[3:], stdout, stderr)
		case "revoke":
			return runDevicesRevoke(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown devices command: %s\n", args[2])
			return 1
		}
	case "codes":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: tagdeck codes <import>")
			return 1
		}
		switch args[2] {
		case "import":
			return runCodesImport(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown codes command: %s\n", args[2])
			return 1
		}
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "tagdeck %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
