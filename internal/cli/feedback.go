package cli

import (
	"fmt"

	"github.com/ashureev/wellness/internal/domain"
	"github.com/ashureev/wellness/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "List archived feedback",
		RunE:  runFeedback,
	}
	cmd.Flags().String("user", "", "Only show feedback from this anonymous user ID")
	cmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")
	RootCmd.AddCommand(cmd)
}

func runFeedback(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	s, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = s.Close() }()

	records, err := s.ListFeedback(cmd.Context(), user, limit)
	if err != nil {
		return fmt.Errorf("list feedback: %w", err)
	}

	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		if records == nil {
			records = []domain.FeedbackRecord{}
		}
		return printJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No feedback yet.")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(out, "%s  %-8s %s\n  %s\n", rec.CreatedAt.Format(domain.EntryTimeLayout), rec.PersonaID, rec.UserID, rec.Text)
	}
	return nil
}
