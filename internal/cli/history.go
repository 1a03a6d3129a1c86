package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/solace/internal/client"
	"github.com/lazypower/solace/internal/stage"
	"github.com/lazypower/solace/internal/store"
	"github.com/lazypower/solace/internal/userstate"
)

var (
	historyLimit  int
	historyRemote bool
	historyURL    string
)

var historyCmd = &cobra.Command{
	Use:   "history <user>",
	Short: "Show a user's statistics and stage trajectory",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "trajectory entries to show")
	historyCmd.Flags().BoolVar(&historyRemote, "remote", false, "query a running server instead of the local store")
	historyCmd.Flags().StringVar(&historyURL, "url", "", "server URL for --remote")
}

// historian is the read side shared by the local engine and the client.
type historian interface {
	Statistics(ctx context.Context, userID string) (*store.Statistics, error)
	StageTrajectory(ctx context.Context, userID string, limit int) ([]store.StageSample, error)
	StageAnalysis(ctx context.Context, userID string) (*userstate.StageAnalysis, error)
}

func runHistory(cmd *cobra.Command, args []string) error {
	var h historian
	if historyRemote {
		h = client.New(historyURL)
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := buildStack(cmd.Context(), cfg, stackOptions{})
		if err != nil {
			return err
		}
		defer st.Close()
		h = st.engine
	}
	return printHistory(cmd.Context(), cmd.OutOrStdout(), h, args[0], historyLimit)
}

func printHistory(ctx context.Context, w io.Writer, h historian, userID string, limit int) error {
	stats, err := h.Statistics(ctx, userID)
	if err != nil {
		return err
	}
	analysis, err := h.StageAnalysis(ctx, userID)
	if err != nil {
		return err
	}
	traj, err := h.StageTrajectory(ctx, userID, limit)
	if err != nil {
		return err
	}

	if stats.TotalInteractions == 0 {
		fmt.Fprintf(w, "%s: no interactions recorded\n", userID)
		return nil
	}

	fmt.Fprintf(w, "%s\n", userID)
	fmt.Fprintf(w, "  interactions: %d (first %s, last %s)\n",
		stats.TotalInteractions, stats.FirstSeen.Format(time.DateTime), stats.LastSeen.Format(time.DateTime))
	fmt.Fprintf(w, "  current stage: %s  mood: %.1f\n", analysis.CurrentStage, stats.LastMood)
	fmt.Fprintf(w, "  alerts: %d warning, %d crisis\n", stats.WarningAlerts, stats.CrisisAlerts)
	fmt.Fprintf(w, "  acceptance: %s\n", analysis.AcceptanceRatio)

	fmt.Fprintln(w, "  recent stages:")
	for _, s := range stage.All {
		fmt.Fprintf(w, "    %-12s %d\n", s.Label(), stats.RecentStageCounts.Get(s))
	}

	if len(traj) > 0 {
		fmt.Fprintln(w, "  trajectory:")
		for _, t := range traj {
			fmt.Fprintf(w, "    %s  %-12s %.2f\n", t.Timestamp.Format(time.DateTime), t.Stage.Label(), t.Confidence)
		}
	}
	return nil
}
