package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexuslabs/nexus/internal/agent/routing"
	"github.com/nexuslabs/nexus/internal/models"
)

func newDoctorCommand() *cobra.Command {
	var discoverBedrock bool
	var bedrockRegion string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report which models are currently reachable given configured API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if discoverBedrock {
				if err := discoverBedrockModels(cmd.Context(), bedrockRegion); err != nil {
					fmt.Fprintf(os.Stderr, "bedrock discovery: %v\n", err)
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tREACHABLE\tREASON")

			providers := []models.Provider{models.ProviderAnthropic, models.ProviderOpenAI, models.ProviderGoogle}
			if discoverBedrock {
				providers = append(providers, models.ProviderBedrock)
			}
			for _, provider := range providers {
				for _, m := range models.DefaultCatalog.ListByProvider(provider) {
					result := routing.CanRunAgent(routing.AgentSpec{Model: m.ID}, models.DefaultCatalog, nil, routing.OSEnvLookup)
					reason := result.Reason
					if reason == "" && result.CanRun {
						reason = "ok"
					}
					fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", m.ID, m.Provider, result.CanRun, reason)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&discoverBedrock, "discover-bedrock", false, "query AWS Bedrock for foundation models and register them in the catalog before reporting")
	cmd.Flags().StringVar(&bedrockRegion, "bedrock-region", "us-east-1", "AWS region to query when --discover-bedrock is set")
	return cmd
}

// discoverBedrockModels registers every foundation model AWS Bedrock
// currently reports for region into the default catalog, so doctor's
// reachability report reflects live Bedrock availability rather than only
// the statically registered models.
func discoverBedrockModels(ctx context.Context, region string) error {
	discovery := models.NewBedrockDiscovery(models.BedrockDiscoveryConfig{
		Enabled: true,
		Region:  region,
	}, slog.Default())
	return discovery.RegisterWithCatalog(ctx, models.DefaultCatalog)
}
