package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slush-dev/agentpush"
	"github.com/slush-dev/agentpush/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show or change an agent's status record",
}

var statusGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the agent record and local push registration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		userFlag, _ := cmd.Flags().GetString("user")
		ctx := context.Background()

		svc, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		userID, err := resolveUser(userFlag, svc.cfg)
		if err != nil {
			return err
		}

		rec, err := svc.sync.Record(ctx, userID)
		found := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reading agent %s: %w", userID, err)
		}
		printAgent(cmd.OutOrStdout(), userID, rec, found, svc.cfg.Store.Backend, useYAML)
		return nil
	},
}

var statusSetCmd = &cobra.Command{
	Use:   "set <status>",
	Short: "Overwrite the agent's status field (e.g. Idle)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userFlag, _ := cmd.Flags().GetString("user")
		status := strings.TrimSpace(args[0])
		if status == "" {
			return errors.New("status must not be empty")
		}
		ctx := context.Background()

		svc, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		userID, err := resolveUser(userFlag, svc.cfg)
		if err != nil {
			return err
		}
		if err := svc.sync.UpdateStatus(ctx, userID, status); err != nil {
			return err
		}

		if useYAML {
			yamlOut(map[string]string{"user_id": userID, "status": status})
		} else {
			fmt.Printf("Status of %s set to %s.\n", userID, status)
		}
		return nil
	},
}

func printAgent(w io.Writer, userID string, rec agentpush.AgentStatusRecord, found bool, backend string, useYAML bool) {
	if useYAML {
		out := map[string]any{
			"user_id": userID,
			"store":   backend,
			"found":   found,
		}
		if found {
			out["record"] = rec
		}
		yamlTo(w, out)
		return
	}

	fmt.Fprintf(w, "Agent:    %s\n", userID)
	fmt.Fprintf(w, "Store:    %s\n", backend)
	if !found {
		fmt.Fprintln(w, "Record:   none")
		return
	}
	fmt.Fprintf(w, "Status:   %s\n", orDash(rec.Status))
	fmt.Fprintf(w, "Device:   %s\n", orDash(rec.Device))
	fmt.Fprintf(w, "Token:    %s\n", orDash(shorten(rec.Token, 24)))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	for _, c := range []*cobra.Command{statusGetCmd, statusSetCmd} {
		c.Flags().String("user", "", "Agent id (default: user_id from config)")
		statusCmd.AddCommand(c)
	}
	rootCmd.AddCommand(statusCmd)
}
