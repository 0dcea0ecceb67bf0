package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collabcanvas/api/internal/canvas"
	"collabcanvas/api/internal/transport"
)

var watchFlags clientFlags

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join the room and log every change it receives",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		token, err := watchFlags.login(ctx)
		if err != nil {
			return err
		}
		client, err := transport.Dial(ctx, watchFlags.socketURL(), transport.ClientOptions{Token: token, Logger: logger})
		if err != nil {
			return err
		}
		defer client.Close()

		doc := canvas.NewMemoryDocument()
		session := canvas.NewSession(doc, client, canvas.Options{
			UserID:        watchFlags.name,
			FlushInterval: cfg.FlushInterval,
			Logger:        logger,
			OnReconcile: func(res canvas.Result) {
				if !res.Changed() {
					return
				}
				logger.Info("room changed",
					zap.Int("shapes", doc.Len()),
					zap.Int("created", res.Created),
					zap.Int("updated", res.Updated),
					zap.Int("deleted", res.Deleted),
					zap.Int("peers", len(client.Peers())),
				)
			},
		})
		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("start session: %w", err)
		}

		<-ctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return session.Close(closeCtx)
	},
}

func init() {
	watchFlags.register(watchCmd, "viewer")
}
