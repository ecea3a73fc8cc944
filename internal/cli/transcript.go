package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/format"
	"github.com/ProhibitedTV/ChoomLang/internal/transcript"
)

func (a *app) transcriptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Inspect relay transcripts",
	}

	var (
		session string
		asJSON  bool
	)
	summary := &cobra.Command{
		Use:   "summary <log.jsonl|transcript.db>",
		Short: "Summarize retries, fallbacks and latency per stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			records, err := readTranscript(c, args[0], session)
			if err != nil {
				return err
			}
			s := transcript.Summarize(records)
			if asJSON {
				data, err := dsl.MarshalSorted(s, "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, string(data))
				return nil
			}
			fmt.Fprintln(a.stdout, format.SummaryTable(s, a.tableMode()))
			return nil
		},
	}
	summary.Flags().StringVar(&session, "session", "", "Only records from this session id")
	summary.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")

	cmd.AddCommand(summary)
	return cmd
}

func readTranscript(c *cobra.Command, path, session string) ([]transcript.Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		db, err := transcript.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return db.Records(c.Context(), session)
	}

	records, err := transcript.ReadFile(path)
	if err != nil || session == "" {
		return records, err
	}
	filtered := records[:0]
	for _, rec := range records {
		if rec.SessionID == session {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}
