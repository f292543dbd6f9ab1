package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tripwise/relay/internal/config"
	"github.com/tripwise/relay/internal/logger"
	"github.com/tripwise/relay/internal/models"
	"github.com/tripwise/relay/internal/normalize"
	"github.com/tripwise/relay/internal/prompt"
	"github.com/tripwise/relay/internal/upstream"
	"go.uber.org/zap"
)

var planOpts planOptions

type planOptions struct {
	Destination string
	Days        int
	Prompt      string
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate one travel plan and print it",
	Long: `Generate a single plan without starting the server.

  tripwise plan --destination Rome --days 3   prints the itinerary JSON
  tripwise plan --prompt "three days in Kyoto" prints the model reply`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planOpts.Destination, "destination", "", "destination to plan a trip to")
	planCmd.Flags().IntVar(&planOpts.Days, "days", 3, "number of days (with --destination)")
	planCmd.Flags().StringVar(&planOpts.Prompt, "prompt", "", "free-form trip description")
	planCmd.MarkFlagsMutuallyExclusive("destination", "prompt")
	planCmd.MarkFlagsOneRequired("destination", "prompt")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 开发模式日志，输出到控制台
	log, err := logger.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	client, _, err := newUpstream(cfg, log, false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return executePlan(ctx, client, log, cmd.OutOrStdout(), planOpts)
}

// executePlan runs one request through the same builders and normalizer the
// server uses and writes the result to out.
func executePlan(ctx context.Context, client *upstream.Client, log *zap.Logger, out io.Writer, opts planOptions) error {
	builder := prompt.ItineraryByPrompt()
	in := models.PlanRequest{Prompt: opts.Prompt}
	if opts.Destination != "" {
		builder = prompt.ItineraryByDestination()
		in = models.PlanRequest{Destination: opts.Destination, Days: float64(opts.Days)}
	}

	req, err := builder.Build(in)
	if err != nil {
		return err
	}

	log.Debug("Requesting plan",
		zap.String("builder", builder.Name()),
		zap.String("endpoint", client.Endpoint()))

	resp, err := client.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to generate travel plan: %w", err)
	}

	text, err := normalize.Extract(resp)
	if err != nil {
		return fmt.Errorf("failed to generate travel plan: %w", err)
	}

	if opts.Destination == "" {
		_, err = fmt.Fprintln(out, text)
		return err
	}

	doc, err := normalize.ParseItinerary(text)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(doc))
	return err
}
