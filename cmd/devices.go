package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/tagdeck/host/internal/config"
	"github.com/tagdeck/host/internal/server"
	"github.com/tagdeck/host/internal/storage"
)

// DevicesConfig holds the configuration for device management commands.
type DevicesConfig struct {
	DBPath string
	Addr   string
}

// formatDuration formats a duration in a human-readable way.
// Examples: "just now", "5m ago", "2h ago", "3d ago"
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

// openDeviceStore opens the store holding paired devices, resolving the
// default path when dbPath is empty. The bool is false when the database
// file does not exist yet.
func openDeviceStore(dbPath string) (*storage.SQLiteStore, bool, error) {
	if dbPath == "" {
		var err error
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			return nil, false, err
		}
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, false, nil
	}

	imageDir, err := config.DefaultImageDir()
	if err != nil {
		return nil, false, err
	}

	store, err := storage.NewSQLiteStore(dbPath, imageDir)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open storage: %w", err)
	}
	return store, true, nil
}

func runDevicesList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &DevicesConfig{}
	fs.StringVar(&cfg.DBPath, "db", "", "Path to the host database (default: ~/.tagdeck/tagdeck.db)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck devices list [options]\n\nList all paired companion devices.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	store, exists, err := openDeviceStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if !exists {
		fmt.Fprintln(stdout, "No paired devices found.")
		return 0
	}
	defer store.Close()

	devices, err := store.ListDevices()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list devices: %v\n", err)
		return 1
	}

	if len(devices) == 0 {
		fmt.Fprintln(stdout, "No paired devices found.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE ID\tNAME\tPLATFORM\tCREATED\tLAST SEEN")
	fmt.Fprintln(w, "---------\t----\t--------\t-------\t---------")

	now := time.Now()
	for _, device := range devices {
		platform := device.Platform
		if platform == "" {
			platform = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			device.ID,
			device.Name,
			platform,
			formatDuration(now.Sub(device.CreatedAt)),
			formatDuration(now.Sub(device.LastSeen)),
		)
	}
	w.Flush()

	return 0
}

func runDevicesRevoke(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices revoke", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &DevicesConfig{}
	var port int
	fs.StringVar(&cfg.DBPath, "db", "", "Path to the host database (default: ~/.tagdeck/tagdeck.db)")
	fs.StringVar(&cfg.Addr, "addr", "", "Host address to notify (default: localhost, then Tailscale/LAN)")
	fs.IntVar(&port, "port", defaultPort, "Port to query when auto-selecting address")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck devices revoke [options] <device-id>\n\nRevoke a device token and disconnect any active sessions.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: device-id is required")
		fs.Usage()
		return 1
	}

	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	if err := validatePort(port); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	deviceID := fs.Arg(0)

	store, exists, err := openDeviceStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if !exists {
		fmt.Fprintf(stderr, "Error: device %s not found\n", deviceID)
		return 1
	}
	defer store.Close()

	// Check that the device exists before attempting to revoke.
	device, err := store.GetDevice(deviceID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to look up device: %v\n", err)
		return 1
	}
	if device == nil {
		fmt.Fprintf(stderr, "Error: device %s not found\n", deviceID)
		return 1
	}

	addrs := resolveAddrCandidates(cfg.Addr, port, explicitFlags["port"], stderr)

	// Prefer revoking through the running host: it closes the device's
	// active connections before deleting it, so the companion cannot
	// ride out an established session.
	closedCount, hostHandled := notifyHostRevocation(deviceID, addrs)
	if hostHandled {
		fmt.Fprintf(stdout, "Revoked device: %s (%s)\n", device.ID, device.Name)
		fmt.Fprintf(stdout, "Closed %d active connection(s).\n", closedCount)
		return 0
	}

	// Host not reachable. Delete from storage directly; any active
	// connection is rejected on its next auth check.
	if err := store.DeleteDevice(deviceID); err != nil {
		fmt.Fprintf(stderr, "Error: failed to revoke device: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Revoked device: %s (%s)\n", device.ID, device.Name)
	fmt.Fprintln(stdout, "Note: Host is not running or unreachable. The device has been revoked and will be disconnected if it tries to reconnect.")

	return 0
}

// notifyHostRevocation asks a running host to revoke the device over its
// /devices/{id}/revoke endpoint. Returns (connections_closed, true) when
// a host handled the request, or (0, false) when none was reachable.
func notifyHostRevocation(deviceID string, addrs []string) (int, bool) {
	client := &http.Client{Timeout: 2 * time.Second}

	for _, addr := range addrs {
		url := fmt.Sprintf("http://%s/devices/%s/revoke", addr, deviceID)

		resp, err := client.Post(url, "application/json", nil)
		if err != nil {
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var result server.RevokeDeviceResponse
			if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
				resp.Body.Close()
				return result.ConnectionsClosed, true
			}
		}
		resp.Body.Close()
	}

	return 0, false
}
