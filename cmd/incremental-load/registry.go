package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/config"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/incrementalload"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/normalization"
)

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the concept map registry",
	}

	var (
		resourceType string
		organization string
		load         bool
	)
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which concept map version a resource type and organization resolve to",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := normalization.ParseResourceType(resourceType)
			if err != nil {
				return err
			}
			org := normalization.Organization{ID: organization}

			// Only the terminology API settings matter here.
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := newApp(context.Background(), cfg, newLogger(cfg, os.Stderr), false, false)
			if err != nil {
				return err
			}
			defer a.Close()

			resolver := incrementalload.NewServices(a.client, a.logger).Resolver
			out := cmd.OutOrStdout()
			if !load {
				ref, err := resolver.ResolveRef(cmd.Context(), rt, org)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, ref.String())
				return nil
			}

			cm, ref, err := resolver.Resolve(cmd.Context(), rt, org)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, ref.String())
			fmt.Fprintf(out, "concept map version:        %s\n", cm.UUID)
			fmt.Fprintf(out, "source value set version:   %s\n", cm.SourceValueSetVersionUUID)
			fmt.Fprintf(out, "target value set version:   %s\n", cm.TargetValueSetVersionUUID)
			fmt.Fprintf(out, "mappings:                   %d\n", len(cm.Mappings))
			return nil
		},
	}
	resolveCmd.Flags().StringVar(&resourceType, "resource-type", "", "Registry data_element code, e.g. Condition")
	resolveCmd.Flags().StringVar(&organization, "organization", "", "Tenant identifier")
	resolveCmd.Flags().BoolVar(&load, "load", false, "Also load the concept map version and its value sets")
	_ = resolveCmd.MarkFlagRequired("resource-type")
	_ = resolveCmd.MarkFlagRequired("organization")
	cmd.AddCommand(resolveCmd)

	return cmd
}
