package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/store"
)

var destinationsCmd = &cobra.Command{
	Use:   "destinations",
	Short: "Manage webhook destinations",
}

var destinationsFile string

// destinationFile is the YAML layout read by destinations sync.
type destinationFile struct {
	Destinations []struct {
		Name     string            `yaml:"name"`
		URL      string            `yaml:"url"`
		TenantID string            `yaml:"tenant_id"`
		Enabled  *bool             `yaml:"enabled"`
		Headers  map[string]string `yaml:"headers"`
		Events   []string          `yaml:"events"`
	} `yaml:"destinations"`
}

// loadDestinations parses and validates a destinations file. Enabled
// defaults to true.
func loadDestinations(path string) ([]model.Destination, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var f destinationFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}

	out := make([]model.Destination, 0, len(f.Destinations))
	for _, d := range f.Destinations {
		dest := model.Destination{
			Name:    d.Name,
			URL:     d.URL,
			Enabled: d.Enabled == nil || *d.Enabled,
			Headers: d.Headers,
			Events:  d.Events,
		}
		if d.TenantID != "" {
			tenant := d.TenantID
			dest.TenantID = &tenant
		}
		if err := dest.Validate(); err != nil {
			return nil, eris.Wrapf(err, "destination %q", d.Name)
		}
		out = append(out, dest)
	}
	return out, nil
}

var destinationsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert destinations from a YAML file, keyed by name",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dests, err := loadDestinations(destinationsFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		for i := range dests {
			if err := env.Store.UpsertDestination(ctx, &dests[i]); err != nil {
				return eris.Wrapf(err, "upsert destination %q", dests[i].Name)
			}
			zap.L().Info("destination synced",
				zap.String("name", dests[i].Name),
				zap.String("id", dests[i].ID),
				zap.Bool("enabled", dests[i].Enabled),
			)
		}
		return nil
	},
}

var destinationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhook destinations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		dests, err := env.Store.ListDestinations(cmd.Context(), false)
		if err != nil {
			return eris.Wrap(err, "list destinations")
		}
		return printJSON(cmd.OutOrStdout(), dests)
	},
}

var (
	deliveriesDestination string
	deliveriesLead        string
	deliveriesOutcome     string
	deliveriesLimit       int
	deliveryID            string
)

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Inspect and replay webhook deliveries",
}

var deliveriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent delivery attempts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		logs, err := env.Store.ListDeliveries(cmd.Context(), store.DeliveryFilter{
			DestinationID: deliveriesDestination,
			LeadID:        deliveriesLead,
			Outcome:       deliveriesOutcome,
			Limit:         deliveriesLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list deliveries")
		}
		return printJSON(cmd.OutOrStdout(), logs)
	},
}

var deliveriesReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send a logged delivery again with its original payload",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Dispatcher.Replay(cmd.Context(), deliveryID)
		if err != nil {
			return eris.Wrap(err, "replay delivery")
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	destinationsSyncCmd.Flags().StringVar(&destinationsFile, "file", "destinations.yaml", "YAML file listing destinations")
	destinationsCmd.AddCommand(destinationsSyncCmd, destinationsListCmd)
	rootCmd.AddCommand(destinationsCmd)

	deliveriesListCmd.Flags().StringVar(&deliveriesDestination, "destination", "", "filter by destination id")
	deliveriesListCmd.Flags().StringVar(&deliveriesLead, "lead", "", "filter by lead id")
	deliveriesListCmd.Flags().StringVar(&deliveriesOutcome, "outcome", "", "filter by outcome (success or error)")
	deliveriesListCmd.Flags().IntVar(&deliveriesLimit, "limit", 50, "max rows")
	deliveriesReplayCmd.Flags().StringVar(&deliveryID, "id", "", "delivery id (required)")
	_ = deliveriesReplayCmd.MarkFlagRequired("id")
	deliveriesCmd.AddCommand(deliveriesListCmd, deliveriesReplayCmd)
	rootCmd.AddCommand(deliveriesCmd)
}
