package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/cmtbridge/pkg/cli"
	"github.com/haivivi/cmtbridge/pkg/journal"
)

var journalDir string

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect recorded bridge sessions",
	Long: `Inspect recorded bridge sessions.

Every 'cmtbridge run' with an on-disk journal records the protocol
transitions, recoveries, watchdog cleanups and signals of the connection.

Examples:
  cmtbridge journal sessions
  cmtbridge journal show 3f0c7a2e-... --json
  cmtbridge journal delete 3f0c7a2e-...`,
}

func openJournal() (journal.Store, error) {
	dir := journalDir
	if dir == "" {
		ctx, err := getContext()
		if err != nil {
			return nil, err
		}
		bc, err := LoadBridgeConfig(ctx)
		if err != nil {
			return nil, err
		}
		dir = bc.Journal
	}
	if dir == journalOff || dir == journalMemory {
		return nil, fmt.Errorf("journal %q is not persistent", dir)
	}
	printVerbose("journal at %s", dir)
	return journal.NewBadger(journal.BadgerOptions{Dir: dir})
}

var journalSessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		var sessions []journal.Session
		for s, err := range journal.Sessions(cmd.Context(), store) {
			if err != nil {
				return err
			}
			sessions = append(sessions, s)
		}
		if outputJSON || outputFile != "" {
			return outputResult(sessions)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tLABEL")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Started.Format("2006-01-02 15:04:05"), s.Label)
		}
		return w.Flush()
	},
}

var journalShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Show the records of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		var records []journal.RecordEntry
		for e, err := range journal.Records(cmd.Context(), store, args[0]) {
			if err != nil {
				return err
			}
			records = append(records, e)
		}
		if len(records) == 0 {
			return fmt.Errorf("session %q has no records", args[0])
		}
		return outputResult(records)
	},
}

var journalDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session and its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := journal.Delete(cmd.Context(), store, args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Session %q deleted", args[0])
		return nil
	},
}

func init() {
	journalCmd.PersistentFlags().StringVar(&journalDir, "dir", "", "journal directory (default from context)")

	journalCmd.AddCommand(journalSessionsCmd)
	journalCmd.AddCommand(journalShowCmd)
	journalCmd.AddCommand(journalDeleteCmd)
}
