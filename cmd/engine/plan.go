package main

import (
	"github.com/spf13/cobra"

	"github.com/vedagro/backend/internal/config"
)

var planFile string

func init() {
	planCmd.Flags().StringVar(&planFile, "file", "", "plan file to check (default: PLAN_FILE)")
	rootCmd.AddCommand(planCmd)
}

// loadPlanProvider validates the plan once and serves it for the rest of the command
func loadPlanProvider() (config.PlanProvider, error) {
	path := planFile
	if path == "" {
		path = cfg.PlanFile
	}
	plan, err := config.LoadPlan(path)
	if err != nil {
		return nil, err
	}
	return config.StaticPlan{P: plan}, nil
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validate and print the effective compensation plan as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := loadPlanProvider()
		if err != nil {
			return err
		}
		plan, err := provider.Plan(cmd.Context())
		if err != nil {
			return err
		}
		out, err := plan.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
