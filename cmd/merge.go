package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-engine/internal/merge"
	"github.com/sells-group/lead-engine/internal/model"
)

var (
	mergeTenant     string
	mergeEmail      string
	mergePhone      string
	mergeIDKind     string
	mergeExternalID string
	mergePrincipal  string
	mergeActor      string
	mergeRole       string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Consolidate a duplicate group into a principal lead",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		key, err := mergeKey()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Merger.Merge(ctx, merge.Request{
			TenantID:    mergeTenant,
			Key:         key,
			PrincipalID: mergePrincipal,
			Actor:       merge.Actor{ID: mergeActor, Role: mergeRole},
		})
		if err != nil {
			return eris.Wrap(err, "merge")
		}
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if len(res.Pending) > 0 {
			return eris.Errorf("merge: %d secondaries pending, run again to retry", len(res.Pending))
		}
		return nil
	},
}

// mergeKey builds the group key from exactly one of the key flags.
func mergeKey() (model.GroupKey, error) {
	var keys []model.GroupKey
	if mergeEmail != "" {
		keys = append(keys, model.GroupKey{Kind: model.GroupEmail, Value: mergeEmail})
	}
	if mergePhone != "" {
		keys = append(keys, model.GroupKey{Kind: model.GroupPhone, Value: mergePhone})
	}
	if mergeExternalID != "" {
		kind := model.ExternalIDKind(mergeIDKind)
		if kind.Column() == "" {
			return model.GroupKey{}, eris.Errorf("unknown --id-kind %q", mergeIDKind)
		}
		keys = append(keys, model.GroupKey{Kind: model.GroupExternalID, IDKind: kind, Value: mergeExternalID})
	}
	if len(keys) != 1 {
		return model.GroupKey{}, eris.New("exactly one of --email, --phone or --external-id is required")
	}
	return keys[0], nil
}

func init() {
	f := mergeCmd.Flags()
	f.StringVar(&mergeTenant, "tenant", "", "tenant id (required)")
	f.StringVar(&mergeEmail, "email", "", "group leads sharing this email")
	f.StringVar(&mergePhone, "phone", "", "group leads sharing this phone")
	f.StringVar(&mergeIDKind, "id-kind", string(model.ExternalTicket), "external id kind for --external-id")
	f.StringVar(&mergeExternalID, "external-id", "", "group leads sharing this external id")
	f.StringVar(&mergePrincipal, "principal", "", "id of the lead that survives (required)")
	f.StringVar(&mergeActor, "actor", "cli", "actor recorded on the merge")
	f.StringVar(&mergeRole, "role", "admin", "role of the actor")
	_ = mergeCmd.MarkFlagRequired("tenant")
	_ = mergeCmd.MarkFlagRequired("principal")
	rootCmd.AddCommand(mergeCmd)
}
