package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/scoring"
	"github.com/sells-group/lead-engine/internal/store"
)

var (
	scoreTenant string
	scoreLead   string
	scoreLimit  int
)

type scoredLead struct {
	LeadID string         `json:"lead_id"`
	Name   string         `json:"nome,omitempty"`
	Score  scoring.Result `json:"score"`
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Print the temperature score of one lead or a tenant's leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := scoring.ValidateConfig(cfg.Scoring); err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		now := time.Now().UTC()
		if scoreLead != "" {
			l, err := env.Store.GetLead(ctx, scoreTenant, scoreLead)
			if err != nil {
				return eris.Wrap(err, "load lead")
			}
			if l == nil {
				return model.NewNotFoundError("lead", scoreLead)
			}
			return printJSON(cmd.OutOrStdout(), scoredLead{LeadID: l.ID, Name: l.Name, Score: scoring.Score(l, now, cfg.Scoring)})
		}

		leads, err := env.Store.ListLeads(ctx, store.LeadFilter{TenantID: scoreTenant, Limit: scoreLimit})
		if err != nil {
			return eris.Wrap(err, "list leads")
		}
		out := make([]scoredLead, 0, len(leads))
		for i := range leads {
			out = append(out, scoredLead{
				LeadID: leads[i].ID,
				Name:   leads[i].Name,
				Score:  scoring.Score(&leads[i], now, cfg.Scoring),
			})
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreTenant, "tenant", "", "tenant id (required)")
	scoreCmd.Flags().StringVar(&scoreLead, "lead", "", "score a single lead")
	scoreCmd.Flags().IntVar(&scoreLimit, "limit", 100, "leads to score when --lead is not set")
	_ = scoreCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(scoreCmd)
}
