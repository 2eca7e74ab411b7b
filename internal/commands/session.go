package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"livescribe/internal/bootstrap"
	"livescribe/internal/domain"
)

var sessionUser string

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"s"},
	Short:   "Inspect stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List a user's sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionUser == "" {
			return fmt.Errorf("--user is required")
		}
		db, err := bootstrap.OpenStore(configPath)
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := db.ListSessions(cmd.Context(), sessionUser)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODE\tSTATUS\tDURATION\tSTARTED")
		for _, session := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0fs\t%s\n",
				session.ID, session.Mode, session.Status, session.DurationSeconds,
				session.StartedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Print a session and its transcript chunks as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := bootstrap.OpenStore(configPath)
		if err != nil {
			return err
		}
		defer db.Close()

		session, err := db.ReadSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		chunks, err := db.ListChunks(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			*domain.Session
			Chunks []domain.TranscriptChunk `json:"chunks"`
		}{Session: session, Chunks: chunks})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:     "delete [session-id]",
	Aliases: []string{"rm"},
	Short:   "Delete a session and its chunks",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionUser == "" {
			return fmt.Errorf("--user is required")
		}
		db, err := bootstrap.OpenStore(configPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteSession(cmd.Context(), args[0], sessionUser); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	},
}

func init() {
	sessionListCmd.Flags().StringVarP(&sessionUser, "user", "u", "", "owner user id")
	sessionDeleteCmd.Flags().StringVarP(&sessionUser, "user", "u", "", "owner user id")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

