package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

type clientFlags struct {
	server string
	name   string
	role   string
}

func (f *clientFlags) register(cmd *cobra.Command, defaultRole string) {
	cmd.Flags().StringVar(&f.server, "server", "http://localhost:8787", "base URL of the whiteboard api")
	cmd.Flags().StringVar(&f.name, "name", "cli", "display name to log in as")
	cmd.Flags().StringVar(&f.role, "role", defaultRole, "role to request (viewer, editor, agent, admin)")
}

func (f *clientFlags) baseURL() string {
	return strings.TrimSuffix(f.server, "/")
}

// login asks the api for a session token.
func (f *clientFlags) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"name": f.name, "role": f.role})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL()+"/api/session/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("login: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}

func (f *clientFlags) socketURL() string {
	base := f.baseURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/room/ws"
}
