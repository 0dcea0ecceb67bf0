package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"collabcanvas/api/internal/agent"
)

var (
	commandFlags     clientFlags
	commandComposite string
)

var commandCmd = &cobra.Command{
	Use:   "command [prompt...]",
	Short: "Send an AI command to the room and print its event stream",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		token, err := commandFlags.login(ctx)
		if err != nil {
			return err
		}

		body, err := json.Marshal(agent.Request{
			Prompt:    strings.Join(args, " "),
			Composite: commandComposite,
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, commandFlags.baseURL()+"/api/ai/command", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("send command: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("send command: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		}

		out := cmd.OutOrStdout()
		var failed string
		err = agent.ReadStream(resp.Body, func(ev agent.Event) error {
			if ev.Type == agent.EventError {
				var data agent.ErrorData
				if err := json.Unmarshal(ev.Data, &data); err == nil {
					failed = data.Message
				}
			}
			if len(ev.Data) == 0 {
				_, err := fmt.Fprintf(out, "%s\n", ev.Type)
				return err
			}
			_, err := fmt.Fprintf(out, "%s %s\n", ev.Type, ev.Data)
			return err
		})
		if err != nil {
			return err
		}
		if failed != "" {
			return fmt.Errorf("command failed: %s", failed)
		}
		return nil
	},
}

func init() {
	commandFlags.register(commandCmd, "agent")
	commandCmd.Flags().StringVar(&commandComposite, "composite", "", "composite to build (login-form, nav-bar)")
}
