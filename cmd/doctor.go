// This file implements the `tagdeck doctor` diagnostic command.
//
// Doctor runs a sequence of preflight checks against the local host
// environment and reports actionable remediation guidance for any
// issues. It supports both human-readable (default) and machine-readable
// (--json) output.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/tagdeck/host/internal/config"
	"github.com/tagdeck/host/internal/nfc"
	"github.com/tagdeck/host/internal/server"
	"github.com/tagdeck/host/internal/storage"
)

// DoctorResult is the top-level JSON output for `tagdeck doctor --json`.
type DoctorResult struct {
	// Version is the doctor output schema version. Always "1".
	Version string `json:"version"`

	// Checks is the ordered list of diagnostic checks that were evaluated.
	Checks []DoctorCheck `json:"checks"`

	// Summary contains aggregate pass/warn/fail counts derived from Checks.
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is one diagnostic check in the doctor output.
type DoctorCheck struct {
	// ID is a stable, machine-readable identifier for the check.
	ID string `json:"id"`

	// Status is the check result: "pass", "warn", or "fail".
	Status string `json:"status"`

	// Message is a human-readable summary of what was found.
	Message string `json:"message"`

	// NextAction is a concrete remediation step the operator should take.
	NextAction string `json:"next_action"`
}

// DoctorSummary holds aggregate counts of check outcomes.
type DoctorSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Stable check IDs used by the doctor command.
// These are part of the public CLI contract and must not change.
const (
	checkIDConfig    = "config.file"
	checkIDDatabase  = "storage.database"
	checkIDImages    = "storage.images"
	checkIDReader    = "reader.devices"
	checkIDRemoteAPI = "remote.api"
	checkIDHostReady = "host.readiness"
)

// Stable status values for doctor checks.
const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// Function-variable seams for testability. Tests override these to
// inject deterministic behavior without hardware or network access.
var (
	// doctorQueryHostStatus probes a single address for host status.
	doctorQueryHostStatus = queryHostStatus

	// doctorListReaders enumerates attached PC/SC readers.
	doctorListReaders = defaultListReaders

	// doctorProbeAPI checks whether the remote card database answers.
	doctorProbeAPI = defaultProbeAPI

	// doctorResolveAddrCandidates returns candidate addresses for host probing.
	doctorResolveAddrCandidates = resolveAddrCandidates
)

// defaultListReaders opens a PC/SC context just long enough to list
// attached readers.
func defaultListReaders() ([]string, error) {
	ctx, err := nfc.SCardFactory()
	if err != nil {
		return nil, err
	}
	defer ctx.Release()
	return ctx.ListReaders()
}

// defaultProbeAPI checks remote card database reachability. Any HTTP
// answer counts; this is a connectivity check, not an API contract check.
func defaultProbeAPI(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// runDoctor implements the `tagdeck doctor` CLI command. Returns 0 when
// no checks fail, 1 when any check fails or an internal error occurs.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var jsonMode bool
	var addr string
	var port int
	var configPath string
	var dbPath string
	var imageDir string
	var apiBaseURL string

	fs.BoolVar(&jsonMode, "json", false, "Emit machine-readable JSON to stdout")
	fs.StringVar(&addr, "addr", "", "Host address override for readiness checks")
	fs.IntVar(&port, "port", defaultPort, "Port for auto-selected IPs")
	fs.StringVar(&configPath, "config", "", "Config file override")
	fs.StringVar(&dbPath, "db", "", "Database path override")
	fs.StringVar(&imageDir, "image-dir", "", "Image directory override")
	fs.StringVar(&apiBaseURL, "api-url", "", "Card database endpoint override")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck doctor [options]\n\nDiagnose host environment, reader, and connectivity.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Track explicitly set flags for override detection.
	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	if err := validatePort(port); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// The config check runs on the path alone; the loaded values then
	// feed the defaults of every later check.
	effectiveConfigPath := configPath
	if effectiveConfigPath == "" {
		var err error
		effectiveConfigPath, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
			return 1
		}
	}
	configCheck, fileCfg := evalConfig(effectiveConfigPath)

	if dbPath == "" {
		dbPath = fileCfg.DBPath
	}
	if dbPath == "" {
		var err error
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine database path: %v\n", err)
			return 1
		}
	}
	if imageDir == "" {
		imageDir = fileCfg.ImageDir
	}
	if imageDir == "" {
		var err error
		imageDir, err = config.DefaultImageDir()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine image directory: %v\n", err)
			return 1
		}
	}
	if apiBaseURL == "" {
		apiBaseURL = fileCfg.APIBaseURL
	}
	if apiBaseURL == "" {
		apiBaseURL = config.DefaultAPIBaseURL
	}

	// Probe host status once; two checks share the answer.
	addrs := doctorResolveAddrCandidates(addr, port, explicitFlags["port"], stderr)
	var statusResp *server.StatusResponse
	for _, target := range addrs {
		if resp, err := doctorQueryHostStatus(target); err == nil {
			statusResp = resp
			break
		}
	}

	// Evaluate checks in deterministic order.
	checks := make([]DoctorCheck, 0, 6)
	checks = append(checks, configCheck)
	checks = append(checks, evalDatabase(dbPath, imageDir))
	checks = append(checks, evalImageDir(imageDir))
	checks = append(checks, evalReader())
	checks = append(checks, evalRemoteAPI(apiBaseURL))
	checks = append(checks, evalHostReadiness(statusResp))

	summary := DoctorSummary{}
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			summary.Pass++
		case statusWarn:
			summary.Warn++
		case statusFail:
			summary.Fail++
		}
	}

	result := DoctorResult{
		Version: "1",
		Checks:  checks,
		Summary: summary,
	}

	if jsonMode {
		if err := renderDoctorJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDoctorHuman(stdout, result, isColorTerminal(stdout))
	}

	if summary.Fail > 0 {
		return 1
	}
	return 0
}

// evalConfig evaluates the config.file check and returns the loaded
// config for later checks. A missing file is normal before first start.
// Decision table:
//   - file missing -> warn (defaults in effect)
//   - file present but unreadable or invalid -> fail
//   - file present and valid -> pass
func evalConfig(path string) (DoctorCheck, *config.Config) {
	check := DoctorCheck{ID: checkIDConfig}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("No config file at %s; defaults are in effect.", path)
		check.NextAction = "Run `tagdeck start` once to create it."
		return check, &config.Config{}
	}

	cfg, err := config.Load(path)
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Config error: %v", err)
		check.NextAction = fmt.Sprintf("Fix or remove %s and rerun doctor.", path)
		return check, &config.Config{}
	}
	if err := cfg.Validate(); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Config error: %v", err)
		check.NextAction = fmt.Sprintf("Fix %s and rerun doctor.", path)
		return check, &config.Config{}
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Config loaded from %s.", path)
	check.NextAction = "No action required."
	return check, cfg
}

// evalDatabase evaluates the storage.database check, including cache
// statistics when the database is usable.
// Decision table:
//   - database file missing -> warn (created on first start)
//   - open or integrity check fails -> fail
//   - usable -> pass with card/mapping counts and size
func evalDatabase(dbPath, imageDir string) DoctorCheck {
	check := DoctorCheck{ID: checkIDDatabase}

	fi, err := os.Stat(dbPath)
	if os.IsNotExist(err) {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("No database yet at %s.", dbPath)
		check.NextAction = "Run `tagdeck start` or `tagdeck search` to create it."
		return check
	}

	store, err := storage.NewSQLiteStore(dbPath, imageDir)
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Database cannot be opened: %v", err)
		check.NextAction = fmt.Sprintf("Check permissions on %s, or move the corrupt file aside.", dbPath)
		return check
	}
	defer store.Close()

	if err := store.Verify(); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Database integrity check failed: %v", err)
		check.NextAction = fmt.Sprintf("Move %s aside and let the host rebuild the cache.", dbPath)
		return check
	}

	cardCount, err := store.CountCards()
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Database query failed: %v", err)
		check.NextAction = fmt.Sprintf("Move %s aside and let the host rebuild the cache.", dbPath)
		return check
	}
	codeCount, _ := store.CountCodes()

	check.Status = statusPass
	check.Message = fmt.Sprintf("Database OK: %d cards, %d passcode mappings, %s on disk (last written %s).",
		cardCount, codeCount, humanize.Bytes(uint64(fi.Size())), humanize.Time(fi.ModTime()))
	check.NextAction = "No action required."
	return check
}

// evalImageDir evaluates the storage.images check with a write probe.
// Decision table:
//   - directory cannot be created or written -> fail
//   - writable -> pass
func evalImageDir(imageDir string) DoctorCheck {
	check := DoctorCheck{ID: checkIDImages}

	if err := os.MkdirAll(imageDir, 0755); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Image directory cannot be created: %v", err)
		check.NextAction = fmt.Sprintf("Check permissions on %s.", imageDir)
		return check
	}

	probe, err := os.CreateTemp(imageDir, ".doctor-*")
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Image directory is not writable: %v", err)
		check.NextAction = fmt.Sprintf("Check permissions on %s.", imageDir)
		return check
	}
	probe.Close()
	os.Remove(probe.Name())

	check.Status = statusPass
	check.Message = fmt.Sprintf("Image directory writable: %s.", imageDir)
	check.NextAction = "No action required."
	return check
}

// evalReader evaluates the reader.devices check.
// Decision table:
//   - PC/SC context cannot be established -> fail
//   - no readers attached -> warn (simulation still works)
//   - readers found -> pass
func evalReader() DoctorCheck {
	check := DoctorCheck{ID: checkIDReader}

	readers, err := doctorListReaders()
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("PC/SC unavailable: %v", err)
		check.NextAction = "Install and start the PC/SC daemon (pcscd), or run the host with --simulate."
		return check
	}

	if len(readers) == 0 {
		check.Status = statusWarn
		check.Message = "No PC/SC readers attached."
		check.NextAction = "Attach an NFC reader (for example an ACR122U), or run the host with --simulate."
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Found %d reader(s): %s.", len(readers), strings.Join(readers, ", "))
	check.NextAction = "No action required."
	return check
}

// evalRemoteAPI evaluates the remote.api check. Unreachability is a
// warning, not a failure; cached cards keep working offline.
// Decision table:
//   - API answers -> pass
//   - API unreachable -> warn
func evalRemoteAPI(baseURL string) DoctorCheck {
	check := DoctorCheck{ID: checkIDRemoteAPI}

	if err := doctorProbeAPI(baseURL); err != nil {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Card database not reachable: %v", err)
		check.NextAction = "Check the network connection; cached cards still work offline."
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Card database reachable at %s.", baseURL)
	check.NextAction = "No action required."
	return check
}

// evalHostReadiness evaluates the host.readiness check. A stopped host
// is a warning; doctor is expected to run before first start.
// Decision table:
//   - no status response -> warn
//   - status response -> pass with version, uptime, clients, reader state
func evalHostReadiness(status *server.StatusResponse) DoctorCheck {
	check := DoctorCheck{ID: checkIDHostReady}

	if status == nil {
		check.Status = statusWarn
		check.Message = "No running host found."
		check.NextAction = "Start it with `tagdeck start`."
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Host %s up %s: %d client(s), reader %s.",
		status.Version, formatUptime(status.UptimeSeconds), status.Clients, status.ReaderState)
	check.NextAction = "No action required."
	return check
}

// renderDoctorJSON writes the doctor result as JSON to stdout.
// Only valid JSON is written to stdout; no extra lines.
func renderDoctorJSON(w io.Writer, result DoctorResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// renderDoctorHuman writes the doctor result in human-readable format.
func renderDoctorHuman(w io.Writer, result DoctorResult, color bool) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Tagdeck Doctor")
	fmt.Fprintln(w, "==============")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		icon := statusIcon(c.Status, color)
		fmt.Fprintf(w, "  %s %s: %s\n", icon, c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

// statusIcon returns a text marker for the check status, colored when
// the output supports it.
func statusIcon(status string, color bool) string {
	if !color {
		switch status {
		case statusPass:
			return "[PASS]"
		case statusWarn:
			return "[WARN]"
		case statusFail:
			return "[FAIL]"
		default:
			return "[????]"
		}
	}
	switch status {
	case statusPass:
		return "\x1b[32m[PASS]\x1b[0m"
	case statusWarn:
		return "\x1b[33m[WARN]\x1b[0m"
	case statusFail:
		return "\x1b[31m[FAIL]\x1b[0m"
	default:
		return "[????]"
	}
}

// isColorTerminal reports whether w is a terminal that can render ANSI
// colors. Piped and redirected output stays plain.
func isColorTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
