package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tagdeck/host/internal/auth"
	"github.com/tagdeck/host/internal/cards"
	"github.com/tagdeck/host/internal/config"
	apperrors "github.com/tagdeck/host/internal/errors"
	"github.com/tagdeck/host/internal/keepawake"
	"github.com/tagdeck/host/internal/mdns"
	"github.com/tagdeck/host/internal/nfc"
	"github.com/tagdeck/host/internal/server"
	"github.com/tagdeck/host/internal/storage"
	"github.com/tagdeck/host/internal/tagcodec"
)

// StartConfig holds the configuration for the start command.
type StartConfig struct {
	Config           string
	Addr             string
	DBPath           string
	ImageDir         string
	Reader           string
	Simulate         bool
	PollIntervalMs   int
	TagCapacity      int
	APIBaseURL       string
	FetchConcurrency int
	FetchRatePerSec  float64
	Language         string
	RequireAuth      bool
	NoAuth           bool
	MdnsEnabled      bool
	KeepAwake        bool
	Name             string
	Pair             bool
	QR               bool
	LockFile         string
	Daemon           bool
	LogFile          string
}

func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &StartConfig{}

	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.tagdeck/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "Listen address for the companion server (default: 127.0.0.1:41114)")
	fs.StringVar(&cfg.DBPath, "db", "", "Path to the card cache database (default: ~/.tagdeck/tagdeck.db)")
	fs.StringVar(&cfg.ImageDir, "image-dir", "", "Root directory for card images (default: ~/.tagdeck/images)")
	fs.StringVar(&cfg.Reader, "reader", "", "Reader name substring (default: first attached reader)")
	fs.BoolVar(&cfg.Simulate, "simulate", false, "Use an in-memory reader instead of PC/SC hardware")
	fs.IntVar(&cfg.PollIntervalMs, "poll-interval-ms", 0, "Reader poll cadence in milliseconds (default: 1000)")
	fs.IntVar(&cfg.TagCapacity, "tag-capacity", 0, "Writable tag payload in bytes (default: 144)")
	fs.StringVar(&cfg.APIBaseURL, "api-url", "", "Card database endpoint (default: "+config.DefaultAPIBaseURL+")")
	fs.StringVar(&cfg.Language, "language", "", "Language code written to tags (default: EN)")
	fs.BoolVar(&cfg.RequireAuth, "require-auth", false, "Require device authentication for companion connections")
	fs.BoolVar(&cfg.NoAuth, "no-auth", false, "Accept unauthenticated companions (overrides config and --require-auth)")
	fs.BoolVar(&cfg.MdnsEnabled, "mdns", false, "Advertise the host over mDNS for companion discovery")
	fs.BoolVar(&cfg.KeepAwake, "keep-awake", false, "Keep the host awake while the daemon runs (macOS)")
	fs.StringVar(&cfg.Name, "name", "", "Host name advertised over mDNS (default: system hostname)")
	fs.BoolVar(&cfg.Pair, "pair", false, "Generate and display a pairing code during startup")
	fs.BoolVar(&cfg.QR, "qr", false, "Display the pairing code as a QR code (implies --pair)")
	fs.StringVar(&cfg.LockFile, "lock-file", "", "Single-instance lock file (default: ~/.tagdeck/tagdeck.lock)")
	fs.BoolVar(&cfg.Daemon, "daemon", false, "Run the host in the background")
	fs.StringVar(&cfg.LogFile, "log-file", "", "Log file path for --daemon (default: ~/.tagdeck/tagdeck.log)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tagdeck start [options]\n\nStart the host daemon: reader monitor, card cache, and companion server.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Track which flags were explicitly set on the command line.
	// This distinguishes "flag not specified" from "flag set to default value".
	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	// Create the default config on first start so subsequent runs (and
	// the user reading the file) see the same settings.
	if cfg.Config == "" {
		configPath, err := config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
			return 1
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			dataDir, err := config.DefaultDataDir()
			if err != nil {
				fmt.Fprintf(stderr, "Error: failed to determine data directory: %v\n", err)
				return 1
			}
			if err := config.WriteDefault(configPath, dataDir); err != nil {
				fmt.Fprintf(stderr, "Error: failed to create config file: %v\n", err)
				return 1
			}
			fmt.Fprintf(stdout, "Created config: %s\n", configPath)
		}
	}

	// Load config file and merge with CLI flags.
	// CLI flags take precedence over file values.
	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := fileCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Merge file config with CLI flags: only apply file values if the CLI
	// value is zero/empty. Boolean flags apply the file value only when the
	// flag was not explicitly given, so --flag=false still wins.
	if cfg.Addr == "" {
		cfg.Addr = fileCfg.Addr
	}
	if cfg.DBPath == "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = fileCfg.ImageDir
	}
	if cfg.Reader == "" {
		cfg.Reader = fileCfg.Reader
	}
	if !explicitFlags["simulate"] {
		cfg.Simulate = fileCfg.Simulate
	}
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = fileCfg.PollIntervalMs
	}
	if cfg.TagCapacity == 0 {
		cfg.TagCapacity = fileCfg.TagCapacity
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = fileCfg.APIBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = fileCfg.Language
	}
	cfg.FetchConcurrency = fileCfg.FetchConcurrency
	cfg.FetchRatePerSec = fileCfg.FetchRatePerSec
	if !explicitFlags["require-auth"] {
		cfg.RequireAuth = fileCfg.RequireAuth
	}
	if !explicitFlags["mdns"] {
		cfg.MdnsEnabled = fileCfg.MdnsEnabled
	}
	if !explicitFlags["keep-awake"] {
		cfg.KeepAwake = fileCfg.KeepAwake
	}
	if !explicitFlags["pair"] {
		cfg.Pair = fileCfg.Pair
	}
	if !explicitFlags["qr"] {
		cfg.QR = fileCfg.QR
	}
	if cfg.LockFile == "" {
		cfg.LockFile = fileCfg.LockFile
	}
	if cfg.LogFile == "" {
		cfg.LogFile = fileCfg.LogFile
	}

	// --no-auth always wins; it exists so a developer can force an open
	// host regardless of the generated config.
	if cfg.NoAuth {
		cfg.RequireAuth = false
	}

	// --qr without --pair would have nothing to render.
	if cfg.QR && !cfg.Pair {
		cfg.Pair = true
	}

	// Handle daemon mode: re-exec in background if requested.
	// Go doesn't support fork(), so we use the re-exec pattern:
	// 1. Parent: set env var and re-exec the same binary, then exit
	// 2. Child: detect env var, continue with normal execution
	const daemonEnvVar = "TAGDECK_DAEMON_CHILD"
	var logFile *os.File

	if cfg.Daemon && os.Getenv(daemonEnvVar) == "" {
		logFilePath, err := resolveLogFilePath(cfg.LogFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}

		if err := os.MkdirAll(filepath.Dir(logFilePath), 0700); err != nil {
			fmt.Fprintf(stderr, "Error: failed to create log directory: %v\n", err)
			return 1
		}

		logFileHandle, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
			return 1
		}

		exe, err := os.Executable()
		if err != nil {
			logFileHandle.Close()
			fmt.Fprintf(stderr, "Error: failed to get executable path: %v\n", err)
			return 1
		}

		childArgs := append([]string{"start"}, args...)
		cmd := exec.Command(exe, childArgs...)
		cmd.Stdout = logFileHandle
		cmd.Stderr = logFileHandle
		cmd.Stdin = nil
		cmd.Env = append(os.Environ(), daemonEnvVar+"=1")

		if err := cmd.Start(); err != nil {
			logFileHandle.Close()
			fmt.Fprintf(stderr, "Error: failed to start daemon: %v\n", err)
			return 1
		}

		// Wait for the child to either exit (startup failure) or survive
		// past startup.
		childPid := cmd.Process.Pid
		childDone := make(chan error, 1)
		go func() {
			childDone <- cmd.Wait()
		}()

		select {
		case err := <-childDone:
			logFileHandle.Close()
			if err != nil {
				fmt.Fprintf(stderr, "Error: daemon failed to start (exit: %v, check log: %s)\n", err, logFilePath)
			} else {
				fmt.Fprintf(stderr, "Error: daemon exited unexpectedly (check log: %s)\n", logFilePath)
			}
			return 1
		case <-time.After(2 * time.Second):
			fmt.Fprintf(stdout, "Daemon started (pid %d). Logging to: %s\n", childPid, logFilePath)
			logFileHandle.Close()
			return 0
		}
	}

	if cfg.Daemon {
		// We're in the daemon child - redirect output to the log file.
		logFilePath, err := resolveLogFilePath(cfg.LogFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		logFile, err = os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
			return 1
		}
		stdout = logFile
		stderr = logFile
		log.SetOutput(logFile)
	}

	// Apply defaults for anything neither flags nor the file set.
	addr := cfg.Addr
	if addr == "" {
		addr = config.DefaultAddr
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine database path: %v\n", err)
			return 1
		}
	}
	imageDir := cfg.ImageDir
	if imageDir == "" {
		imageDir, err = config.DefaultImageDir()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine image directory: %v\n", err)
			return 1
		}
	}
	lockPath := cfg.LockFile
	if lockPath == "" {
		lockPath, err = config.DefaultLockPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine lock file path: %v\n", err)
			return 1
		}
	}
	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = time.Duration(config.DefaultPollIntervalMs) * time.Millisecond
	}
	tagCapacity := cfg.TagCapacity
	if tagCapacity <= 0 {
		tagCapacity = config.DefaultTagCapacity
	}
	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = config.DefaultAPIBaseURL
	}
	language := cfg.Language
	if language == "" {
		language = config.DefaultLanguage
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create data directory: %v\n", err)
		return 1
	}

	// Take the single-instance lock before touching the reader or the
	// database. Two daemons polling one reader corrupt each other's
	// connect/disconnect cycles.
	releaseLock, err := acquireLock(lockPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer releaseLock()

	// Open SQLite storage for the card cache, passcode map, and paired
	// devices. Everything survives restarts in one file.
	store, err := storage.NewSQLiteStore(dbPath, imageDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open storage: %v\n", err)
		return 1
	}

	// Remote card database client, shared by companion searches.
	cardClient := cards.NewClient(cards.ClientConfig{
		BaseURL:          apiBaseURL,
		FetchConcurrency: cfg.FetchConcurrency,
		FetchRatePerSec:  cfg.FetchRatePerSec,
	})

	// Pairing manager and token validator for companion authentication.
	pairingManager := auth.NewPairingManager(auth.PairingConfig{
		DeviceStore: store,
	})
	tokenValidator := auth.NewTokenValidator(store)

	// Companion event server.
	wsServer := server.NewServer(addr)
	wsServer.SetVersion(Version)
	wsServer.SetRequireAuth(cfg.RequireAuth)
	wsServer.SetTokenValidator(func(token string) (string, error) {
		device, err := tokenValidator.ValidateToken(token)
		if err != nil {
			return "", err
		}
		return device.ID, nil
	})
	wsServer.SetPairHandler(auth.NewPairHandler(pairingManager))
	wsServer.SetGenerateCodeHandler(auth.NewGenerateCodeHandler(pairingManager))
	wsServer.SetRevokeDeviceHandler(server.NewRevokeDeviceHandler(wsServer, store))
	wsServer.SetDeviceActivityTracker(func(deviceID string) {
		if err := store.UpdateLastSeen(deviceID, time.Now()); err != nil {
			log.Printf("host: failed to update last_seen for device %s: %v", deviceID, err)
		}
	})
	wsServer.SetCardStore(store)
	wsServer.SetCardSearcher(cardClient)

	// Reader monitor. Callbacks run in order on the monitor's delivery
	// goroutine, so lastState needs no locking.
	factory := nfc.SCardFactory
	readerLabel := "PC/SC"
	if cfg.Simulate {
		sim := nfc.NewSimTransport()
		factory = sim.Factory()
		readerLabel = "simulated"
	}

	var lastState nfc.State = nfc.StateDisconnected
	monitor := nfc.NewMonitor(nfc.MonitorConfig{
		Factory:      factory,
		Reader:       cfg.Reader,
		PollInterval: pollInterval,
		TagCapacity:  tagCapacity,
		OnState: func(state nfc.State) {
			if lastState == nfc.StateTagPresent && state != nfc.StateTagPresent {
				wsServer.BroadcastTagRemoved()
			}
			lastState = state
			wsServer.BroadcastReaderStatus(string(state))
		},
		OnTag: func(tag nfc.Tag) {
			wsServer.BroadcastTagPresent(buildTagPresent(store, tag))
		},
		OnError: func(err error) {
			log.Printf("host: reader error: %v", err)
		},
	})

	// Tag writes requested over /api/write go through the monitor so they
	// serialize with polling.
	wsServer.SetTagWriteHandler(func(passcode string, withName bool) (server.CardWrittenPayload, error) {
		result, frame, err := writeCardToTag(monitor, store, language, tagCapacity, passcode, withName)
		if err != nil {
			return server.CardWrittenPayload{}, err
		}
		// The monitor only reports a tag once per presentation, so push
		// the refreshed contents to companions ourselves.
		wsServer.BroadcastTagPresent(buildTagPresent(store, nfc.Tag{UID: result.UID, Data: frame}))
		return result, nil
	})

	// Start the companion server first so its listen failure (port in
	// use) aborts startup before the reader is touched.
	if err := <-wsServer.StartAsync(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		store.Close()
		return 1
	}

	monitor.Start()

	// Start the mDNS advertiser if enabled. Discovery only reveals
	// presence; pairing is still required.
	var mdnsAdvertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		port := defaultPort
		if _, portStr, err := net.SplitHostPort(addr); err == nil && portStr != "" {
			if p, err := strconv.Atoi(portStr); err == nil && p > 0 {
				port = p
			}
		}
		mdnsAdvertiser = mdns.NewAdvertiser(mdns.Config{
			Port: port,
			Name: cfg.Name,
		})
		if err := mdnsAdvertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start mDNS discovery: %v\n", err)
			mdnsAdvertiser = nil
		} else {
			fmt.Fprintln(stdout, "mDNS discovery: ENABLED (visible on LAN)")
		}
	}

	// Hold a sleep inhibitor for the daemon's lifetime if requested, so
	// an idle host keeps polling the reader and serving companions.
	var keepAwakeManager *keepawake.Manager
	if cfg.KeepAwake {
		keepAwakeManager = keepawake.NewManager(keepawake.NewDefaultAdapter(), keepawake.Options{})
		if st := keepAwakeManager.Enable(context.Background()); st.State == keepawake.StateOn {
			fmt.Fprintln(stdout, "Keep-awake: ENABLED (system sleep inhibited)")
			if snap := keepawake.NewDefaultPowerProvider().Snapshot(); snap.OnBattery != nil && *snap.OnBattery {
				fmt.Fprintln(stderr, "Warning: keep-awake on battery power will drain the battery.")
			}
		} else {
			fmt.Fprintf(stderr, "Warning: keep-awake unavailable: %s\n", st.LastError)
		}
	}

	fmt.Fprintf(stdout, "Database:  %s\n", dbPath)
	fmt.Fprintf(stdout, "Images:    %s\n", imageDir)
	fmt.Fprintf(stdout, "Reader:    %s", readerLabel)
	if cfg.Reader != "" {
		fmt.Fprintf(stdout, " (match %q)", cfg.Reader)
	}
	fmt.Fprintln(stdout, "")
	if cfg.RequireAuth {
		fmt.Fprintln(stdout, "Auth:      REQUIRED (use 'tagdeck pair' to pair companions)")
	} else {
		fmt.Fprintln(stdout, "Auth:      disabled (use --require-auth to enable)")
	}
	fmt.Fprintf(stdout, "Connect to ws://%s/ws for companion events.\n", addr)

	// Generate and display a pairing code if requested, with the most
	// companion-reachable address we can detect.
	if cfg.Pair {
		displayAddr := addr
		if _, portStr, err := net.SplitHostPort(addr); err == nil {
			if ip := GetTailscaleIP(); ip != "" {
				displayAddr = ip + ":" + portStr
			} else if ip := GetPreferredOutboundIP(); ip != "" {
				displayAddr = ip + ":" + portStr
			}
		}

		code, err := pairingManager.GenerateCode()
		if err != nil {
			fmt.Fprintf(stderr, "Warning: failed to generate pairing code: %v\n", err)
		} else {
			expiry := pairingManager.GetCodeExpiry()
			if cfg.QR {
				DisplayQRCode(stdout, code, expiry, displayAddr)
			} else {
				DisplayPairingCode(stdout, code, expiry, displayAddr)
			}
		}
	}

	fmt.Fprintln(stdout, "Press Ctrl+C to stop.")

	// Wait for a shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	// Cleanup in reverse order of creation.
	if mdnsAdvertiser != nil {
		mdnsAdvertiser.Stop()
	}
	monitor.Stop()
	wsServer.Stop()
	if keepAwakeManager != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := keepAwakeManager.Close(closeCtx); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to release sleep inhibitor: %v\n", err)
		}
		cancel()
	}
	store.Close()

	if logFile != nil {
		logFile.Close()
	}
	return 0
}

// acquireLock takes an exclusive flock on path and returns a release
// function. A held lock means another daemon owns the reader.
func acquireLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("another tagdeck daemon is already running (lock held on %s)", path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	// The lock releases when the descriptor closes, so the file handle
	// must stay open for the daemon's lifetime.
	release := func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}
	return release, nil
}

// buildTagPresent decodes a tag frame and hydrates the companion
// payload from the card cache. Decode failures still announce the tag;
// companions get the UID plus the reason the contents were unusable.
func buildTagPresent(store *storage.SQLiteStore, tag nfc.Tag) server.TagPresentPayload {
	payload := server.TagPresentPayload{UID: tag.UID}

	identity, version, err := tagcodec.Decode(tag.Data)
	if err != nil {
		payload.DecodeError = apperrors.GetMessage(err)
		return payload
	}

	payload.Identity = &server.TagIdentityPayload{
		Version:  version,
		Passcode: identity.Passcode,
		KonamiID: identity.KonamiID,
		Variant:  identity.Variant,
		SetCode:  identity.SetCode,
		Language: identity.Language,
		Number:   identity.Number,
		Rarity:   identity.Rarity,
		Edition:  identity.Edition,
		Name:     identity.Name,
	}

	passcode := resolvePasscode(store, identity)
	if passcode == "" {
		return payload
	}

	id, err := strconv.ParseInt(passcode, 10, 64)
	if err != nil {
		return payload
	}

	rec, err := store.GetCard(id)
	if err != nil {
		log.Printf("host: cache lookup for tag card %d failed: %v", id, err)
		return payload
	}
	if rec != nil {
		payload.Card = &server.CardPayload{
			ID:   rec.ID,
			Name: rec.Name,
			Data: json.RawMessage(rec.Data),
		}
	}
	return payload
}

// placeholderPasscode marks tags written for cards whose printed
// passcode is unknown; only the catalog id is usable then.
const placeholderPasscode = "00000000"

// resolvePasscode returns the passcode to look the card up under,
// falling back through the catalog-id mapping when the tag carries only
// a placeholder.
func resolvePasscode(store *storage.SQLiteStore, identity tagcodec.Identity) string {
	passcode := identity.Passcode
	if passcode != "" && passcode != placeholderPasscode {
		return passcode
	}
	if identity.KonamiID == "" {
		return passcode
	}
	mapped, err := store.GetPasscode(identity.KonamiID)
	if err != nil {
		log.Printf("host: passcode lookup for catalog id %s failed: %v", identity.KonamiID, err)
		return passcode
	}
	if mapped != "" {
		return mapped
	}
	return passcode
}

// writeCardToTag encodes the identity for passcode and writes it to the
// presented tag. withName selects a version 2 frame carrying the cached
// card name; the card must be in the cache for that. Returns the write
// receipt and the frame that went onto the tag.
func writeCardToTag(monitor *nfc.Monitor, store *storage.SQLiteStore, language string, capacity int, passcode string, withName bool) (server.CardWrittenPayload, []byte, error) {
	identity := tagcodec.Identity{
		Passcode: passcode,
		Language: language,
	}

	// Fill the catalog id from the passcode map when known.
	if konamiID, err := store.GetKonamiID(passcode); err != nil {
		log.Printf("host: catalog id lookup for %s failed: %v", passcode, err)
	} else if konamiID != "" {
		identity.KonamiID = konamiID
	}

	version := tagcodec.Version1
	if withName {
		id, err := strconv.ParseInt(passcode, 10, 64)
		if err != nil {
			return server.CardWrittenPayload{}, nil, apperrors.Corrupt(fmt.Sprintf("passcode %q is not numeric", passcode))
		}
		rec, err := store.GetCard(id)
		if err != nil {
			return server.CardWrittenPayload{}, nil, err
		}
		if rec == nil {
			return server.CardWrittenPayload{}, nil, apperrors.CardNotFound(id)
		}
		identity.Name = tagcodec.FitName(rec.Name, tagcodec.MaxNameBytes(capacity))
		version = tagcodec.Version2
	}

	frame, err := tagcodec.Encode(identity, version, capacity)
	if err != nil {
		return server.CardWrittenPayload{}, nil, err
	}

	if err := monitor.WriteTag(frame); err != nil {
		return server.CardWrittenPayload{}, nil, err
	}

	uid := ""
	if tag := monitor.CurrentTag(); tag != nil {
		uid = tag.UID
	}

	return server.CardWrittenPayload{
		UID:      uid,
		Passcode: passcode,
		Name:     identity.Name,
		Version:  version,
	}, frame, nil
}

// resolveLogFilePath returns the log file path, using the default if
// not specified.
func resolveLogFilePath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultLogPath()
}
