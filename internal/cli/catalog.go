package cli

import (
	"fmt"

	"github.com/ashureev/wellness/internal/persona"
	"github.com/ashureev/wellness/internal/recommend"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "personas",
		Short: "List the assistant personas",
		RunE:  runPersonas,
	})

	rec := &cobra.Command{
		Use:   "recommend",
		Short: "Suggest a persona from the quick assessment",
		RunE:  runRecommend,
	}
	defaults := recommend.DefaultQuestionnaire()
	rec.Flags().String("age", defaults.AgeGroup, "Age group: 13-17, 18-25, Parent/Guardian, Other")
	rec.Flags().String("concern", defaults.Concern, "Primary concern")
	rec.Flags().Int("mood", defaults.Mood, "Mood from 1 to 10")
	RootCmd.AddCommand(rec)
}

func runPersonas(cmd *cobra.Command, _ []string) error {
	list := persona.Default().List()
	if formatFlag == "json" {
		return printJSON(cmd.OutOrStdout(), list)
	}
	for _, p := range list {
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s (%s)\n         %s\n", p.ID, p.Name, p.Role, p.Description)
	}
	return nil
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	age, _ := cmd.Flags().GetString("age")
	concern, _ := cmd.Flags().GetString("concern")
	mood, _ := cmd.Flags().GetInt("mood")

	q := recommend.Questionnaire{AgeGroup: age, Concern: concern, Mood: mood}
	if err := q.Validate(); err != nil {
		return err
	}
	p, err := persona.Default().Get(q.Recommend())
	if err != nil {
		return err
	}

	if formatFlag == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"questionnaire": q,
			"persona":       p,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recommended: %s (%s)\n%s\n", p.Name, p.Role, p.Description)
	return nil
}
