//go:build integration
// +build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var (
	binaryPath string
	moduleDir  string
)

func TestMain(m *testing.M) {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get working dir: %v\n", err)
		os.Exit(1)
	}
	moduleDir = wd

	tmpDir, err := os.MkdirTemp("", "tagdeck-integration-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "tagdeck")
	build := exec.Command("go", "build", "-o", binaryPath, "./cmd")
	build.Dir = moduleDir
	out, err := build.CombinedOutput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build tagdeck: %v\n%s", err, out)
		_ = os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()
	_ = os.RemoveAll(tmpDir)
	os.Exit(code)
}

type hostProcess struct {
	cmd     *exec.Cmd
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	addr    string
	dataDir string
	waited  bool
}

// hostCommand builds a `tagdeck start` invocation confined to dataDir.
// HOME points at dataDir so a developer's real ~/.tagdeck never leaks
// into a test.
func hostCommand(dataDir, addr string, extra ...string) *exec.Cmd {
	args := []string{
		"start",
		"--addr", addr,
		"--simulate",
		"--poll-interval-ms", "50",
		"--db", filepath.Join(dataDir, "tagdeck.db"),
		"--image-dir", filepath.Join(dataDir, "images"),
		"--lock-file", filepath.Join(dataDir, "tagdeck.lock"),
	}
	args = append(args, extra...)

	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = moduleDir
	cmd.Env = append(os.Environ(), "HOME="+dataDir)
	return cmd
}

func startHost(t *testing.T, extra ...string) *hostProcess {
	t.Helper()

	dataDir := t.TempDir()
	addr := getFreeAddr(t)

	hp := &hostProcess{
		cmd:     hostCommand(dataDir, addr, extra...),
		addr:    addr,
		dataDir: dataDir,
	}
	hp.cmd.Stdout = &hp.stdout
	hp.cmd.Stderr = &hp.stderr

	if err := hp.cmd.Start(); err != nil {
		t.Fatalf("start host failed: %v", err)
	}

	waitForHealth(t, addr, 5*time.Second)

	t.Cleanup(func() {
		hp.stop(t)
	})

	return hp
}

func (h *hostProcess) dbPath() string {
	return filepath.Join(h.dataDir, "tagdeck.db")
}

func (h *hostProcess) stop(t *testing.T) {
	t.Helper()
	if h.waited {
		return
	}
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	_ = h.wait(t, 5*time.Second)
}

func (h *hostProcess) wait(t *testing.T, timeout time.Duration) error {
	t.Helper()
	if h.waited {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()

	select {
	case err := <-done:
		h.waited = true
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for host exit")
	}
}

func getFreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func waitForHealth(t *testing.T, addr string, timeout time.Duration) {
	t.Helper()
	url := fmt.Sprintf("http://%s/health", addr)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(body) == "ok" {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("health endpoint not ready: %s", url)
}

// runCLI runs the built binary as a CLI command with HOME confined to
// home, returning the exit code and captured output.
func runCLI(t *testing.T, home string, args ...string) (int, string, string) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = moduleDir
	cmd.Env = append(os.Environ(), "HOME="+home)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("run %v failed: %v", args, err)
		}
		code = exitErr.ExitCode()
	}
	return code, stdout.String(), stderr.String()
}

// ============================================================
// Wire shapes, redeclared here so the tests exercise the JSON
// contract rather than the server's own structs.
// ============================================================

type statusResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Clients       int    `json:"clients"`
	ReaderState   string `json:"reader_state"`
	TagPresent    bool   `json:"tag_present"`
	Addr          string `json:"addr"`
}

type tagQueryResponse struct {
	State string          `json:"state"`
	Tag   json.RawMessage `json:"tag"`
}

type apiErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

type generateCodeResponse struct {
	Code   string    `json:"code"`
	Expiry time.Time `json:"expiry"`
}

type pairResponse struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

type revokeResponse struct {
	DeviceID          string `json:"device_id"`
	DeviceName        string `json:"device_name"`
	ConnectionsClosed int    `json:"connections_closed"`
}

type messageEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type readerStatusPayload struct {
	State string `json:"state"`
}

type cardSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type searchResultsPayload struct {
	Query   string        `json:"query"`
	Cards   []cardSummary `json:"cards"`
	Skipped int           `json:"skipped"`
}

type cardDetailPayload struct {
	Card   cardSummary `json:"card"`
	Source string      `json:"source"`
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ============================================================
// HTTP and WebSocket helpers
// ============================================================

func httpGetJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode GET %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}

func httpPostJSON(t *testing.T, url string, body, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal POST %s body: %v", url, err)
		}
		reader = bytes.NewReader(data)
	}

	resp, err := http.Post(url, "application/json", reader)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode POST %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}

func dialWebSocket(t *testing.T, addr, token string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws", addr)
	var header http.Header
	if token != "" {
		header = http.Header{"Authorization": {"Bearer " + token}}
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		if err == nil {
			return conn
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("failed to dial websocket: %s", url)
	return nil
}

// dialWebSocketExpectReject asserts the handshake is refused and returns
// the HTTP status the server answered with.
func dialWebSocketExpectReject(t *testing.T, wsURL string, header http.Header) int {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.Close()
		t.Fatalf("expected handshake rejection for %s", wsURL)
	}
	if resp == nil {
		t.Fatalf("handshake failed with no HTTP response: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func readEnvelope(conn *websocket.Conn, timeout time.Duration) (messageEnvelope, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return messageEnvelope{}, err
	}
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return messageEnvelope{}, err
	}
	return env, nil
}

// readUntilType reads envelopes until one of the wanted type arrives,
// skipping interleaved broadcasts such as reader.status transitions.
func readUntilType(t *testing.T, conn *websocket.Conn, want string, timeout time.Duration) messageEnvelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		env, err := readEnvelope(conn, time.Until(deadline))
		if err != nil {
			t.Fatalf("waiting for %q message: %v", want, err)
		}
		if env.Type == want {
			return env
		}
	}
	t.Fatalf("no %q message within %s", want, timeout)
	return messageEnvelope{}
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, msgType, id string, payload interface{}) {
	t.Helper()
	msg := map[string]interface{}{
		"type":    msgType,
		"payload": payload,
	}
	if id != "" {
		msg["id"] = id
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("send %s failed: %v", msgType, err)
	}
}

func waitForReaderState(t *testing.T, addr, want string) tagQueryResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last tagQueryResponse
	for time.Now().Before(deadline) {
		httpGetJSON(t, fmt.Sprintf("http://%s/api/tag", addr), &last)
		if last.State == want {
			return last
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("reader never reached state %q (last %q)", want, last.State)
	return tagQueryResponse{}
}

func waitForClientCount(t *testing.T, addr string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	last := -1
	for time.Now().Before(deadline) {
		var status statusResponse
		httpGetJSON(t, fmt.Sprintf("http://%s/status", addr), &status)
		last = status.Clients
		if last == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (last %d)", want, last)
}

func generatePairingCode(t *testing.T, addr string) string {
	t.Helper()
	var resp generateCodeResponse
	status := httpPostJSON(t, fmt.Sprintf("http://%s/pair/generate", addr), nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("generate code returned status %d", status)
	}
	if len(resp.Code) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", resp.Code)
	}
	if !resp.Expiry.After(time.Now()) {
		t.Errorf("code expiry %v is not in the future", resp.Expiry)
	}
	return resp.Code
}

func pairDevice(t *testing.T, addr, name, platform string) pairResponse {
	t.Helper()
	code := generatePairingCode(t, addr)

	var resp pairResponse
	status := httpPostJSON(t, fmt.Sprintf("http://%s/pair", addr), map[string]string{
		"code":        code,
		"device_name": name,
		"platform":    platform,
	}, &resp)
	if status != http.StatusOK {
		t.Fatalf("pair returned status %d", status)
	}
	if resp.DeviceID == "" || resp.Token == "" {
		t.Fatalf("pair response missing identity: %+v", resp)
	}
	return resp
}

// ============================================================
// Card database stub
// ============================================================

const blueEyesDoc = `{"id":46986414,"name":"Blue-Eyes White Dragon","type":"Normal Monster","frameType":"normal","desc":"This legendary dragon is a powerful engine of destruction.","atk":3000,"def":2500,"level":8,"race":"Dragon","attribute":"LIGHT"}`

const darkMagicianDoc = `{"id":89631139,"name":"Dark Magician","type":"Normal Monster","frameType":"normal","desc":"The ultimate wizard in terms of attack and defense.","atk":2500,"def":2100,"level":7,"race":"Spellcaster","attribute":"DARK"}`

// newCardAPI stands in for the remote card database.
func newCardAPI(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cardinfo.php" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		var doc string
		switch {
		case strings.Contains(strings.ToLower(q.Get("fname")), "blue"),
			q.Get("name") == "Blue-Eyes White Dragon",
			q.Get("id") == "46986414":
			doc = blueEyesDoc
		case strings.Contains(strings.ToLower(q.Get("fname")), "magician"),
			q.Get("id") == "89631139":
			doc = darkMagicianDoc
		}
		if doc == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"No card matching your query was found in the database."}`)
			return
		}
		fmt.Fprintf(w, `{"data":[%s]}`, doc)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// ============================================================
// Tests
// ============================================================

func TestIntegrationHealthEndpoint(t *testing.T) {
	hp := startHost(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", hp.addr))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "ok" {
		t.Errorf("expected body %q, got %q", "ok", string(body))
	}
}

func TestIntegrationStatusReport(t *testing.T) {
	hp := startHost(t)

	var status statusResponse
	if code := httpGetJSON(t, fmt.Sprintf("http://%s/status", hp.addr), &status); code != http.StatusOK {
		t.Fatalf("status returned %d", code)
	}

	if status.Version == "" {
		t.Error("status version is empty")
	}
	if status.Addr != hp.addr {
		t.Errorf("expected addr %q, got %q", hp.addr, status.Addr)
	}
	if status.Clients != 0 {
		t.Errorf("expected 0 clients, got %d", status.Clients)
	}
	if status.TagPresent {
		t.Error("no tag was placed, but status reports one present")
	}
	if status.ReaderState != "disconnected" && status.ReaderState != "idle" {
		t.Errorf("unexpected reader state %q", status.ReaderState)
	}
}

// TestIntegrationReaderGoesIdle waits for the simulated reader to be
// picked up by polling: attached reader, no tag.
func TestIntegrationReaderGoesIdle(t *testing.T) {
	hp := startHost(t)

	tq := waitForReaderState(t, hp.addr, "idle")
	if len(tq.Tag) != 0 && string(tq.Tag) != "null" {
		t.Errorf("expected no tag, got %s", tq.Tag)
	}
}

func TestIntegrationWebSocketSnapshotOnConnect(t *testing.T) {
	hp := startHost(t)
	waitForReaderState(t, hp.addr, "idle")

	conn := dialWebSocket(t, hp.addr, "")
	defer conn.Close()

	env, err := readEnvelope(conn, 3*time.Second)
	if err != nil {
		t.Fatalf("read snapshot failed: %v", err)
	}
	if env.Type != "reader.status" {
		t.Fatalf("expected reader.status first, got %q", env.Type)
	}

	var payload readerStatusPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode reader.status payload: %v", err)
	}
	if payload.State != "idle" {
		t.Errorf("expected idle snapshot, got %q", payload.State)
	}
}

func TestIntegrationStatusTracksClients(t *testing.T) {
	hp := startHost(t)

	conn := dialWebSocket(t, hp.addr, "")
	waitForClientCount(t, hp.addr, 1)

	conn.Close()
	waitForClientCount(t, hp.addr, 0)
}

func TestIntegrationHeartbeatEcho(t *testing.T) {
	hp := startHost(t)

	conn := dialWebSocket(t, hp.addr, "")
	defer conn.Close()
	readUntilType(t, conn, "reader.status", 3*time.Second)

	sendEnvelope(t, conn, "heartbeat", "hb-1", struct{}{})

	env := readUntilType(t, conn, "heartbeat", 3*time.Second)
	if env.ID != "hb-1" {
		t.Errorf("expected heartbeat echo with id %q, got %q", "hb-1", env.ID)
	}
}

// TestIntegrationCompanionSearchWarmsCache searches through the feed and
// then fetches the same card, which must now come from the cache.
func TestIntegrationCompanionSearchWarmsCache(t *testing.T) {
	api := newCardAPI(t)
	hp := startHost(t, "--api-url", api.URL)

	conn := dialWebSocket(t, hp.addr, "")
	defer conn.Close()
	readUntilType(t, conn, "reader.status", 3*time.Second)

	sendEnvelope(t, conn, "search.request", "s1", map[string]interface{}{
		"query": "blue-eyes",
	})

	env := readUntilType(t, conn, "search.results", 5*time.Second)
	if env.ID != "s1" {
		t.Errorf("expected results for request s1, got id %q", env.ID)
	}

	var results searchResultsPayload
	if err := json.Unmarshal(env.Payload, &results); err != nil {
		t.Fatalf("decode search.results payload: %v", err)
	}
	if results.Query != "blue-eyes" {
		t.Errorf("expected query echo %q, got %q", "blue-eyes", results.Query)
	}
	if len(results.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(results.Cards))
	}
	if results.Cards[0].ID != 46986414 || results.Cards[0].Name != "Blue-Eyes White Dragon" {
		t.Errorf("unexpected card: %+v", results.Cards[0])
	}

	sendEnvelope(t, conn, "card.request", "c1", map[string]interface{}{
		"id": 46986414,
	})

	env = readUntilType(t, conn, "card.detail", 5*time.Second)
	if env.ID != "c1" {
		t.Errorf("expected detail for request c1, got id %q", env.ID)
	}

	var detail cardDetailPayload
	if err := json.Unmarshal(env.Payload, &detail); err != nil {
		t.Fatalf("decode card.detail payload: %v", err)
	}
	if detail.Source != "cache" {
		t.Errorf("expected a cache hit after the search, got source %q", detail.Source)
	}
	if detail.Card.ID != 46986414 {
		t.Errorf("unexpected card: %+v", detail.Card)
	}
}

// TestIntegrationCardRequestRemoteFallback fetches a card that was never
// searched, forcing the remote path.
func TestIntegrationCardRequestRemoteFallback(t *testing.T) {
	api := newCardAPI(t)
	hp := startHost(t, "--api-url", api.URL)

	conn := dialWebSocket(t, hp.addr, "")
	defer conn.Close()
	readUntilType(t, conn, "reader.status", 3*time.Second)

	sendEnvelope(t, conn, "card.request", "c1", map[string]interface{}{
		"id": 89631139,
	})

	env := readUntilType(t, conn, "card.detail", 5*time.Second)
	var detail cardDetailPayload
	if err := json.Unmarshal(env.Payload, &detail); err != nil {
		t.Fatalf("decode card.detail payload: %v", err)
	}
	if detail.Source != "remote" {
		t.Errorf("expected a remote fetch, got source %q", detail.Source)
	}
	if detail.Card.Name != "Dark Magician" {
		t.Errorf("unexpected card: %+v", detail.Card)
	}
}

func TestIntegrationSearchInvalidModeError(t *testing.T) {
	hp := startHost(t)

	conn := dialWebSocket(t, hp.addr, "")
	defer conn.Close()
	readUntilType(t, conn, "reader.status", 3*time.Second)

	sendEnvelope(t, conn, "search.request", "s1", map[string]interface{}{
		"query": "blue-eyes",
		"mode":  "bogus",
	})

	env := readUntilType(t, conn, "error", 3*time.Second)
	if env.ID != "s1" {
		t.Errorf("expected error correlated to s1, got id %q", env.ID)
	}

	var payload wsErrorPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != "server.invalid_message" {
		t.Errorf("expected code server.invalid_message, got %q", payload.Code)
	}
}

// TestIntegrationWriteWithoutTagConflicts asks the daemon to write with
// nothing on the reader.
func TestIntegrationWriteWithoutTagConflicts(t *testing.T) {
	hp := startHost(t)
	waitForReaderState(t, hp.addr, "idle")

	var apiErr apiErrorResponse
	status := httpPostJSON(t, fmt.Sprintf("http://%s/api/write", hp.addr), map[string]interface{}{
		"passcode": "46986414",
	}, &apiErr)

	if status != http.StatusConflict {
		t.Errorf("expected status 409, got %d", status)
	}
	if apiErr.ErrorCode != "device.not_ready" {
		t.Errorf("expected error code device.not_ready, got %q", apiErr.ErrorCode)
	}
}

func TestIntegrationGracefulShutdown(t *testing.T) {
	hp := startHost(t)

	if err := hp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal failed: %v", err)
	}
	if err := hp.wait(t, 5*time.Second); err != nil {
		t.Fatalf("host did not exit cleanly: %v\nstderr: %s", err, hp.stderr.String())
	}

	out := hp.stdout.String()
	if !strings.Contains(out, "Reader:    simulated") {
		t.Errorf("startup banner missing reader line:\n%s", out)
	}
	if !strings.Contains(out, "Connect to ws://") {
		t.Errorf("startup banner missing connect line:\n%s", out)
	}
	if !strings.Contains(out, "stopping") {
		t.Errorf("shutdown message missing:\n%s", out)
	}
}

func TestIntegrationPortConflictFailsFast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr().String()

	dataDir := t.TempDir()
	hp := &hostProcess{
		cmd:     hostCommand(dataDir, addr),
		addr:    addr,
		dataDir: dataDir,
	}
	hp.cmd.Stdout = &hp.stdout
	hp.cmd.Stderr = &hp.stderr

	if err := hp.cmd.Start(); err != nil {
		t.Fatalf("start host failed: %v", err)
	}
	if err := hp.wait(t, 5*time.Second); err == nil {
		t.Fatalf("expected startup to fail on a busy port")
	}
	if code := hp.cmd.ProcessState.ExitCode(); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(hp.stderr.String(), "Error:") {
		t.Errorf("expected an error on stderr, got %q", hp.stderr.String())
	}
}

// TestIntegrationSecondInstanceLockRefused starts a second daemon
// against the same lock file.
func TestIntegrationSecondInstanceLockRefused(t *testing.T) {
	hp := startHost(t)

	second := &hostProcess{
		cmd:     hostCommand(hp.dataDir, getFreeAddr(t)),
		dataDir: hp.dataDir,
	}
	second.cmd.Stdout = &second.stdout
	second.cmd.Stderr = &second.stderr

	if err := second.cmd.Start(); err != nil {
		t.Fatalf("start second host failed: %v", err)
	}
	if err := second.wait(t, 5*time.Second); err == nil {
		t.Fatalf("expected the second instance to refuse to start")
	}
	if !strings.Contains(second.stderr.String(), "already running") {
		t.Errorf("expected a lock conflict error, got %q", second.stderr.String())
	}
}

func TestIntegrationPairingFlow(t *testing.T) {
	hp := startHost(t, "--require-auth")

	// Anonymous companions are refused before pairing.
	status := dialWebSocketExpectReject(t, fmt.Sprintf("ws://%s/ws", hp.addr), nil)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 for anonymous dial, got %d", status)
	}

	paired := pairDevice(t, hp.addr, "Integration Phone", "ios")

	conn := dialWebSocket(t, hp.addr, paired.Token)
	defer conn.Close()
	readUntilType(t, conn, "reader.status", 3*time.Second)

	// The paired device shows up in the CLI listing.
	code, out, stderr := runCLI(t, hp.dataDir, "devices", "list", "--db", hp.dbPath())
	if code != 0 {
		t.Fatalf("devices list failed with code %d: %s", code, stderr)
	}
	if !strings.Contains(out, "Integration Phone") {
		t.Errorf("expected device name in listing, got:\n%s", out)
	}
	if !strings.Contains(out, paired.DeviceID) {
		t.Errorf("expected device id %s in listing, got:\n%s", paired.DeviceID, out)
	}
	if !strings.Contains(out, "ios") {
		t.Errorf("expected platform in listing, got:\n%s", out)
	}
}

func TestIntegrationWebSocketRejectsInvalidToken(t *testing.T) {
	hp := startHost(t, "--require-auth")

	header := http.Header{"Authorization": {"Bearer not-a-real-token"}}
	status := dialWebSocketExpectReject(t, fmt.Sprintf("ws://%s/ws", hp.addr), header)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bogus token, got %d", status)
	}
}

func TestIntegrationWebSocketTokenViaQueryParam(t *testing.T) {
	hp := startHost(t, "--require-auth")
	paired := pairDevice(t, hp.addr, "Query Param Phone", "android")

	wsURL := fmt.Sprintf("ws://%s/ws?token=%s", hp.addr, url.QueryEscape(paired.Token))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial with query token failed: %v", err)
	}
	defer conn.Close()

	readUntilType(t, conn, "reader.status", 3*time.Second)
}

func TestIntegrationPairingCodeReplayPrevention(t *testing.T) {
	hp := startHost(t)

	code := generatePairingCode(t, hp.addr)
	pairURL := fmt.Sprintf("http://%s/pair", hp.addr)

	var first pairResponse
	if status := httpPostJSON(t, pairURL, map[string]string{
		"code":        code,
		"device_name": "First Device",
	}, &first); status != http.StatusOK {
		t.Fatalf("first pair returned status %d", status)
	}

	var apiErr apiErrorResponse
	status := httpPostJSON(t, pairURL, map[string]string{
		"code":        code,
		"device_name": "Second Device",
	}, &apiErr)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 on code reuse, got %d", status)
	}
	if apiErr.Error != "used_code" {
		t.Errorf("expected used_code, got %q", apiErr.Error)
	}
}

func TestIntegrationPairingRateLimiting(t *testing.T) {
	hp := startHost(t)
	pairURL := fmt.Sprintf("http://%s/pair", hp.addr)

	for i := 0; i < 5; i++ {
		var apiErr apiErrorResponse
		status := httpPostJSON(t, pairURL, map[string]string{
			"code":        "000000",
			"device_name": "Mallory",
		}, &apiErr)
		if status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, status)
		}
	}

	var apiErr apiErrorResponse
	status := httpPostJSON(t, pairURL, map[string]string{
		"code":        "000000",
		"device_name": "Mallory",
	}, &apiErr)
	if status != http.StatusTooManyRequests {
		t.Errorf("expected 429 after repeated attempts, got %d", status)
	}
	if apiErr.ErrorCode != "auth.rate_limited" {
		t.Errorf("expected auth.rate_limited, got %q", apiErr.ErrorCode)
	}
}

// TestIntegrationRevokeClosesActiveConnection revokes through the CLI
// while the device holds a live feed connection.
func TestIntegrationRevokeClosesActiveConnection(t *testing.T) {
	hp := startHost(t, "--require-auth")
	paired := pairDevice(t, hp.addr, "Kai's Phone", "ios")

	conn := dialWebSocket(t, hp.addr, paired.Token)
	defer conn.Close()
	readUntilType(t, conn, "reader.status", 3*time.Second)
	waitForClientCount(t, hp.addr, 1)

	code, out, stderr := runCLI(t, hp.dataDir,
		"devices", "revoke", "--db", hp.dbPath(), "--addr", hp.addr, paired.DeviceID)
	if code != 0 {
		t.Fatalf("revoke failed with code %d: %s", code, stderr)
	}
	if !strings.Contains(out, "Revoked device:") || !strings.Contains(out, "Kai's Phone") {
		t.Errorf("unexpected revoke output:\n%s", out)
	}
	if !strings.Contains(out, "Closed 1 active connection(s).") {
		t.Errorf("expected one closed connection, got:\n%s", out)
	}

	// The established connection drops.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var readErr error
	for readErr == nil {
		_, _, readErr = conn.ReadMessage()
	}
	if netErr, ok := readErr.(net.Error); ok && netErr.Timeout() {
		t.Fatal("connection still open after revoke")
	}

	// The token no longer authenticates.
	header := http.Header{"Authorization": {"Bearer " + paired.Token}}
	status := dialWebSocketExpectReject(t, fmt.Sprintf("ws://%s/ws", hp.addr), header)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 for a revoked token, got %d", status)
	}
}

func TestIntegrationRevokeViaHTTPEndpoint(t *testing.T) {
	hp := startHost(t)
	paired := pairDevice(t, hp.addr, "Old Tablet", "android")

	revokeURL := fmt.Sprintf("http://%s/devices/%s/revoke", hp.addr, paired.DeviceID)

	var result revokeResponse
	if status := httpPostJSON(t, revokeURL, nil, &result); status != http.StatusOK {
		t.Fatalf("revoke returned status %d", status)
	}
	if result.DeviceID != paired.DeviceID || result.DeviceName != "Old Tablet" {
		t.Errorf("unexpected revoke response: %+v", result)
	}
	if result.ConnectionsClosed != 0 {
		t.Errorf("expected 0 closed connections, got %d", result.ConnectionsClosed)
	}

	// A second revoke finds nothing.
	var apiErr apiErrorResponse
	if status := httpPostJSON(t, revokeURL, nil, &apiErr); status != http.StatusNotFound {
		t.Errorf("expected 404 on double revoke, got %d", status)
	}
}
