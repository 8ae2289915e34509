package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/slush-dev/agentpush"
)

type tokenSyncer interface {
	FetchAndSyncToken(ctx context.Context, userID string) (agentpush.TokenResult, error)
}

// syncTokenForUser fetches the push token and writes it to the agent record,
// reporting the outcome. Only a failed fetch or write is returned as an error.
func syncTokenForUser(ctx context.Context, syncer tokenSyncer, userID string, useYAML bool, stdout, stderr io.Writer) error {
	res, err := syncer.FetchAndSyncToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("token sync failed: %w", err)
	}

	synced := res.Outcome == agentpush.TokenSuccess && res.Token != ""
	switch {
	case res.Outcome == agentpush.TokenCancelled:
		fmt.Fprintln(stderr, "Token request cancelled.")
	case !synced:
		fmt.Fprintln(stderr, "Warning: push service returned an empty token; agent record not updated.")
	}

	if useYAML {
		yamlTo(stdout, map[string]any{
			"user_id": userID,
			"outcome": res.Outcome.String(),
			"synced":  synced,
			"token":   res.Token,
		})
	} else if synced {
		fmt.Fprintf(stdout, "Token synced for %s.\n", userID)
	}
	return nil
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register for push and sync the token to the agent record",
	Long: `Registers this device for push (reusing saved credentials when present)
and, when a user is known, merges the token into the agent record with
status Idle. Without a user the token is only printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userFlag, _ := cmd.Flags().GetString("user")
		refresh, _ := cmd.Flags().GetBool("refresh")

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

		if refresh {
			fmt.Fprintln(os.Stderr, "Discarding saved push credentials...")
			if _, err := svc.push.Refresh(ctx); err != nil {
				return fmt.Errorf("push registration failed: %w", err)
			}
		}

		userID, err := resolveUser(userFlag, svc.cfg)
		if err != nil {
			token, err := svc.push.Register(ctx)
			if err != nil {
				return fmt.Errorf("push registration failed: %w", err)
			}
			if useYAML {
				yamlOut(map[string]string{"fcm_token": token})
			} else {
				fmt.Printf("FCM token: %s\n", token)
			}
			return nil
		}

		return syncTokenForUser(ctx, svc.sync, userID, useYAML, os.Stdout, os.Stderr)
	},
}

func init() {
	registerCmd.Flags().String("user", "", "Agent id whose record receives the token (default: user_id from config)")
	registerCmd.Flags().Bool("refresh", false, "Discard saved credentials and register a new token")
	rootCmd.AddCommand(registerCmd)
}
