// Command client attaches the current terminal to a relay session: raw
// stdin goes out through the shared input channel (WebSocket with HTTP
// fallback), session output comes back over the SSE stream.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"

	"golang.org/x/term"

	"openchamber-relay/internal/client"
	"openchamber-relay/internal/config"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "relay server base URL")
	session := flag.String("session", "", "session id to attach (created when empty)")
	password := flag.String("password", "", "server password, when protection is enabled")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(*server, *session, *password, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(server, sessionID, password string, logger *slog.Logger) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	httpc := &http.Client{Jar: jar}

	if password != "" {
		if err := login(httpc, server, password); err != nil {
			return err
		}
	}

	if sessionID == "" {
		sessionID, err = createSession(httpc, server)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "created session", sessionID)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsURL := toWS(server) + "/api/terminal/input-ws"
	m := client.NewManager(client.Config{
		Dial:              client.WebSocketDialer(wsURL, jar, nil),
		BaseURL:           server,
		HTTPClient:        httpc,
		KeepaliveInterval: cfg.Protocol.KeepaliveInterval(),
		PongTimeout:       cfg.Protocol.PongTimeout(),
		BindAckTimeout:    cfg.Protocol.BindAckTimeout(),
		Logger:            logger,
	})
	defer m.Close()

	m.SetActiveSession(sessionID)
	m.Activate(ctx)

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	go streamOutput(ctx, httpc, server, sessionID)

	// Ctrl-Q detaches.
	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil
		}
		if n == 1 && buf[0] == 0x11 {
			return nil
		}
		if err := m.Send(ctx, buf[:n]); err != nil {
			logger.Warn("keystroke delivery failed", "error", err)
		}
	}
}

func login(httpc *http.Client, server, password string) error {
	body, _ := json.Marshal(map[string]string{"password": password})
	resp, err := httpc.Post(server+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: status %d", resp.StatusCode)
	}
	return nil
}

func createSession(httpc *http.Client, server string) (string, error) {
	resp, err := httpc.Post(server+"/api/sessions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create session: status %d", resp.StatusCode)
	}
	var created struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.Session.ID, nil
}

// streamOutput follows the SSE output stream and writes decoded chunks
// to stdout.
func streamOutput(ctx context.Context, httpc *http.Client, server, sessionID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/terminal/"+sessionID+"/stream", nil)
	if err != nil {
		return
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, "data: "))
		if err != nil {
			continue
		}
		_, _ = os.Stdout.Write(data)
	}
}

func toWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
