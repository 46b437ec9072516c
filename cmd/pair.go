package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/tagdeck/host/internal/auth"
)

// PairConfig holds configuration for the pair command.
type PairConfig struct {
	Addr string
	Port int
	QR   bool
}

func runPair(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &PairConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Host address shown to the companion (default: Tailscale or LAN IP)")
	fs.IntVar(&cfg.Port, "port", defaultPort, "Port of the running host")
	fs.BoolVar(&cfg.QR, "qr", false, "Display pairing information as a QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck pair [options]\n\nGenerate a short pairing code for a companion app.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nThe pairing code is valid for 5 minutes and can only be used once.\n")
		fmt.Fprintf(stderr, "The companion app enters this code at the /pair endpoint to get an access token.\n")
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

	// Determine the display address for companion reachability.
	// Priority: Tailscale IP > LAN IP > localhost (with warning). This is
	// separate from the connection address; code generation is always
	// against localhost because the host restricts /pair/generate to it.
	portStr := fmt.Sprintf("%d", cfg.Port)
	displayAddr := cfg.Addr
	if displayAddr == "" {
		if ip := GetTailscaleIP(); ip != "" {
			displayAddr = ip + ":" + portStr
		} else if ip := GetPreferredOutboundIP(); ip != "" {
			displayAddr = ip + ":" + portStr
		} else {
			fmt.Fprintf(stderr, "Warning: could not detect network IP, using localhost\n")
			displayAddr = "127.0.0.1:" + portStr
		}
	}

	code, expiry, err := requestPairingCode("127.0.0.1:" + portStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "\nThe host must be running to generate a pairing code.\n")
		fmt.Fprintf(stderr, "Start it with: tagdeck start --require-auth\n")
		return 1
	}

	if cfg.QR {
		DisplayQRCode(stdout, code, expiry, displayAddr)
	} else {
		DisplayPairingCode(stdout, code, expiry, displayAddr)
	}
	return 0
}

// requestPairingCode asks the running host daemon for a pairing code.
func requestPairingCode(addr string) (code string, expiry time.Time, err error) {
	reqURL := fmt.Sprintf("http://%s/pair/generate", addr)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(reqURL, "application/json", nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("could not connect to host at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return "", time.Time{}, fmt.Errorf("pairing code generation is restricted to localhost")
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, decodeHostError(resp)
	}

	var result auth.GenerateCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", time.Time{}, err
	}
	return result.Code, result.Expiry, nil
}

// DisplayPairingCode shows the pairing code to the user.
func DisplayPairingCode(w io.Writer, code string, expiry time.Time, addr string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         PAIRING CODE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "           %s\n", FormatCodeWithSpaces(code))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Expires: %s\n", expiry.Format("15:04:05"))
	fmt.Fprintf(w, "  Host:    %s\n", addr)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this code in the companion app to pair.")
	fmt.Fprintln(w, "  The code can only be used once.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// DisplayQRCode shows pairing information as a QR code with plain-text
// fallback. The payload is the tagdeck://pair URL the companion parses.
func DisplayQRCode(w io.Writer, code string, expiry time.Time, addr string) {
	payload := auth.PairingURL(addr, code)

	// Medium error correction keeps the code scannable at terminal
	// rendering sizes without exploding the module count.
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		DisplayPairingCode(w, code, expiry, addr)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	// ToSmallString(false) renders with half-block characters, compact
	// and borderless.
	fmt.Fprint(w, qr.ToSmallString(false))

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Code:    %s\n", FormatCodeWithSpaces(code))
	fmt.Fprintf(w, "  Host:    %s\n", addr)
	fmt.Fprintf(w, "  Expires: %s\n", expiry.Format("15:04:05"))
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// FormatCodeWithSpaces adds spaces between digits for readability.
// "123456" -> "1 2 3 4 5 6"
func FormatCodeWithSpaces(code string) string {
	result := ""
	for i, c := range code {
		if i > 0 {
			result += " "
		}
		result += string(c)
	}
	return result
}
