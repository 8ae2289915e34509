package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/slush-dev/agentpush/incoming"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for incoming call pushes (Ctrl+C to stop)",
	Long: `Registers for push, syncs the token to the agent record and listens on
the MCS connection. Each call invite marks the agent Ringing and is then
accepted or declined, either by prompt or by --auto.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userFlag, _ := cmd.Flags().GetString("user")
		auto, _ := cmd.Flags().GetString("auto")
		buffer, _ := cmd.Flags().GetInt("buffer")

		decide, err := deciderFor(auto, os.Stdin, os.Stderr)
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
		if err := svc.cfg.RequireFCM(); err != nil {
			return err
		}

		userID, err := resolveUser(userFlag, svc.cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v. Agent status will not be updated.\n", err)
		}

		runner := incoming.NewRunner(incoming.Deps{
			UserID:  userID,
			Status:  svc.sync,
			Handler: printHandoff(os.Stdout, useYAML),
			Logger:  svc.logger,
		}, decide, buffer)
		wirePush(ctx, svc.push, svc.sync, userID, runner, os.Stderr)

		if userID != "" {
			if err := syncTokenForUser(ctx, svc.sync, userID, useYAML, os.Stdout, os.Stderr); err != nil {
				return err
			}
		} else if _, err := svc.push.Register(ctx); err != nil {
			return fmt.Errorf("push registration failed: %w", err)
		}

		fmt.Fprintln(os.Stderr, "Listening for calls (Ctrl+C to stop) ...")
		go runner.Run(ctx)
		if err := svc.push.Listen(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "\nShutting down ...")
		return nil
	},
}

func init() {
	listenCmd.Flags().String("user", "", "Agent id to mark Ringing/Idle (default: user_id from config)")
	listenCmd.Flags().String("auto", "", "Answer every call without prompting: accept or decline")
	listenCmd.Flags().Int("buffer", 8, "Pending call invites held while one is on screen")
	rootCmd.AddCommand(listenCmd)
}
