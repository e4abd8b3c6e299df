package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"clinkerplan/internal/scenario"
	"clinkerplan/internal/service"
	"clinkerplan/internal/store"
)

var (
	optimizeScenarios string
	optimizeWait      bool
	optimizeUser      string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Submit an optimization job",
	Long: `Submits an optimization job over the promoted canonical data. Without
--scenarios only the base scenario is planned. The scenario file is a YAML
list of scenario configs (name, type, scaling_factor, distribution, ...).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var configs []scenario.Config
		if optimizeScenarios != "" {
			data, err := os.ReadFile(optimizeScenarios)
			if err != nil {
				return fmt.Errorf("failed to read scenario file: %w", err)
			}
			if err := yaml.Unmarshal(data, &configs); err != nil {
				return fmt.Errorf("failed to parse scenario file: %w", err)
			}
		}

		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		if err := p.Queue().Start(ctx); err != nil {
			return err
		}
		defer p.Queue().Stop()

		jobID, err := p.SubmitOptimization(ctx, service.OptimizationRequest{
			Scenarios: configs,
			UserID:    optimizeUser,
		})
		if err != nil {
			return err
		}
		fmt.Printf("job %s submitted\n", jobID)
		if !optimizeWait {
			return nil
		}

		for {
			job, err := p.JobStatus(ctx, jobID)
			if err != nil {
				return err
			}
			switch job.Status {
			case store.JobSuccess:
				fmt.Printf("job %s: %s (result %s)\n", jobID, job.ResultSummary, job.ResultRef)
				return nil
			case store.JobFailed:
				return fmt.Errorf("job %s failed: %s", jobID, job.ErrorPayload)
			case store.JobCancelled:
				return fmt.Errorf("job %s was cancelled", jobID)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	},
}

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "Show job status, or list recent jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		if len(args) == 1 {
			job, err := p.JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(job)
			return nil
		}
		jobs, err := p.Queue().List(cmd.Context(), jobsLimit)
		if err != nil {
			return err
		}
		for i := range jobs {
			printJob(&jobs[i])
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := p.CancelJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("cancellation requested for job %s\n", args[0])
		return nil
	},
}

var resolveRouteMode string

var resolveRouteCmd = &cobra.Command{
	Use:   "resolve-route <origin-id> <destination-id>",
	Short: "Resolve road distance and duration between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		entry, err := p.ResolveRoute(cmd.Context(), args[0], args[1], resolveRouteMode)
		if err != nil {
			return err
		}
		fmt.Printf("%s -> %s (%s): %.1f km, %.0f min (source: %s)\n",
			entry.OriginID, entry.DestinationID, entry.Mode,
			entry.DistanceKM, entry.DurationMinutes, entry.Provider)
		return nil
	},
}

var kpiCmd = &cobra.Command{
	Use:   "kpi <scenario-name>",
	Short: "Show materialized KPIs for a scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPlanner()
		if err != nil {
			return err
		}
		defer closeFn()

		periods, agg, err := p.KPIs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, row := range periods {
			fmt.Printf("%s: cost %.2f, produced %.1ft, shipped %.1ft, service %.1f%%, stockouts %d\n",
				row.Period, row.TotalCost, row.ProductionTonnes, row.ShipmentTonnes,
				100*row.ServiceLevel, row.StockoutEvents)
		}
		fmt.Printf("total: cost %.2f over %d periods, avg service %.1f%%, unmet %.1ft\n",
			agg.TotalCost, agg.Periods, 100*agg.AvgServiceLevel, agg.UnmetDemandTonnes)
		return nil
	},
}

func printJob(job *store.Job) {
	line := fmt.Sprintf("%s  %-12s %-9s %5.1f%%", job.JobID, job.JobType, job.Status, job.ProgressPercent)
	if job.ProgressMessage != "" {
		line += "  " + job.ProgressMessage
	}
	if job.ErrorPayload != "" {
		line += "  error: " + job.ErrorPayload
	}
	fmt.Println(line)
}

func init() {
	optimizeCmd.Flags().StringVarP(&optimizeScenarios, "scenarios", "s", "", "YAML file of scenario configs")
	optimizeCmd.Flags().BoolVarP(&optimizeWait, "wait", "w", false, "wait for the job to finish")
	optimizeCmd.Flags().StringVar(&optimizeUser, "user", "", "user id recorded on the job")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "maximum jobs to list")
	jobsCmd.AddCommand(cancelCmd)
	resolveRouteCmd.Flags().StringVarP(&resolveRouteMode, "mode", "m", "driving", "transport mode")
}
