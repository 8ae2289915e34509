package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slush-dev/agentpush/apps/agentpush/internal/intake"
	"github.com/slush-dev/agentpush/incoming"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP intake for relayed call pushes",
	Long: `Starts the HTTP intake. Relayed data messages posted to /v1/push are
presented as incoming calls and answered with --auto. With --push the
device also listens on MCS and feeds the same call queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		userFlag, _ := cmd.Flags().GetString("user")
		auto, _ := cmd.Flags().GetString("auto")
		withPush, _ := cmd.Flags().GetBool("push")
		buffer, _ := cmd.Flags().GetInt("buffer")

		decision, err := incoming.ParseDecision(auto)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		svc, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		if addr == "" {
			addr = svc.cfg.HTTP.Addr
		}

		userID, err := resolveUser(userFlag, svc.cfg)
		if err != nil {
			svc.logger.Warn("Agent status will not be updated", "error", err)
		}

		runner := incoming.NewRunner(incoming.Deps{
			UserID:  userID,
			Status:  svc.sync,
			Handler: printHandoff(os.Stdout, useYAML),
			Logger:  svc.logger,
		}, incoming.Always(decision), buffer)

		if withPush {
			if err := svc.cfg.RequireFCM(); err != nil {
				return err
			}
			wirePush(ctx, svc.push, svc.sync, userID, runner, os.Stderr)
			if userID != "" {
				if _, err := svc.sync.FetchAndSyncToken(ctx, userID); err != nil {
					return err
				}
			} else if _, err := svc.push.Register(ctx); err != nil {
				return fmt.Errorf("push registration failed: %w", err)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runner.Run(gctx) })
		g.Go(func() error { return intake.New(svc.sync, runner, svc.logger).Run(gctx, addr) })
		if withPush {
			g.Go(func() error {
				if err := svc.push.Listen(gctx); err != nil && gctx.Err() == nil {
					return err
				}
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default: http.addr from config)")
	serveCmd.Flags().String("user", "", "Agent id to mark Ringing/Idle (default: user_id from config)")
	serveCmd.Flags().String("auto", "accept", "Answer every call: accept or decline")
	serveCmd.Flags().Bool("push", false, "Also listen for pushes on MCS")
	serveCmd.Flags().Int("buffer", 32, "Pending call invites held while one is on screen")
	rootCmd.AddCommand(serveCmd)
}
