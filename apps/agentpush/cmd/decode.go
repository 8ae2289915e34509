package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slush-dev/agentpush"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [payload|-]",
	Short: "Decode a call invite data message",
	Long: `Decodes a call invite given as a JSON object, either as the argument or
on stdin when the argument is "-" or missing. Exits non-zero when the
payload cannot be decoded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := "-"
		if len(args) == 1 {
			raw = args[0]
		}
		if raw == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			raw = string(data)
		}

		invite, err := agentpush.ParseCallInviteString(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		printInvite(cmd.OutOrStdout(), invite, useYAML)
		return nil
	},
}

func printInvite(w io.Writer, p agentpush.CallInvitePayload, useYAML bool) {
	if useYAML {
		out := map[string]any{
			"account_id":     p.AccountID(),
			"application_id": p.ApplicationID(),
			"from_no":        p.FromNo(),
			"to_no":          p.ToNo(),
			"version":        int(p.Version()),
			"valid":          p.Valid(),
		}
		if p.Token() != "" {
			out["token"] = p.Token()
		}
		yamlTo(w, out)
		return
	}

	fmt.Fprintf(w, "Account:      %s\n", p.AccountID())
	fmt.Fprintf(w, "Application:  %s\n", p.ApplicationID())
	fmt.Fprintf(w, "From:         %s\n", p.FromNo())
	fmt.Fprintf(w, "To:           %s\n", p.ToNo())
	fmt.Fprintf(w, "Token:        %s\n", orDash(p.Token()))
	fmt.Fprintf(w, "Version:      %d\n", p.Version())
	fmt.Fprintf(w, "Valid:        %t\n", p.Valid())
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}
