package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/solace/internal/apierr"
	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/engine"
	"github.com/lazypower/solace/internal/transcript"
)

var (
	replayUser    string
	replayType    string
	replayVerbose bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.jsonl>",
	Short: "Feed a recorded conversation through the engine",
	Long: "Replay reads a JSONL conversation log and sends every user message through the engine in order. " +
		"Timestamps in the log drive the mood decay and the stored history, so an old conversation " +
		"lands in the store as it happened.",
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayUser, "user", engine.DefaultUserID, "user id for lines that name none")
	replayCmd.Flags().StringVar(&replayType, "type", string(engine.DefaultUserType), "user type for lines that name none")
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "print every turn")
}

// replayClock reports the timestamp of the turn being replayed, or the
// wall clock before the first timestamped turn.
type replayClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *replayClock) set(t time.Time) {
	if t.IsZero() {
		return
	}
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *replayClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t.IsZero() {
		return time.Now()
	}
	return c.t
}

// userTally is the replay outcome for one user.
type userTally struct {
	Turns    int
	Stage    string
	Mood     string
	Warnings int
	Crises   int
}

type replaySummary struct {
	Users    []string
	Tally    map[string]*userTally
	Rejected int
}

func runReplay(cmd *cobra.Command, args []string) error {
	res, err := transcript.ParseFile(args[0])
	if err != nil {
		return err
	}
	defType, err := engine.ParseUserType(replayType)
	if err != nil {
		return err
	}
	for _, n := range res.Malformed {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed line %d\n", n)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	clock := &replayClock{}
	st, err := buildStack(cmd.Context(), cfg, stackOptions{now: clock.now})
	if err != nil {
		return err
	}
	defer st.Close()

	sum, err := replayTurns(cmd.Context(), st.engine, clock, res.Turns, defType, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	printReplaySummary(cmd.OutOrStdout(), len(res.Turns), sum)
	return nil
}

// replayTurns sends turns through svc in order. Turns the engine rejects as
// invalid are counted and skipped; any other error stops the replay.
func replayTurns(ctx context.Context, svc chatter, clock *replayClock, turns []transcript.Turn, defType engine.UserType, w io.Writer) (*replaySummary, error) {
	sum := &replaySummary{Tally: make(map[string]*userTally)}
	for _, t := range turns {
		clock.set(t.Timestamp)

		userID := t.UserID
		if userID == "" {
			userID = replayUser
		}
		userType := defType
		if t.UserType != "" {
			userType = engine.UserType(t.UserType)
		}

		resp, err := svc.Chat(ctx, engine.ChatRequest{Message: t.Text, UserID: userID, UserType: userType})
		if errors.Is(err, apierr.ErrInvalidInput) {
			sum.Rejected++
			fmt.Fprintf(os.Stderr, "line %d rejected: %v\n", t.Line, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", t.Line, err)
		}

		tally, ok := sum.Tally[userID]
		if !ok {
			tally = &userTally{}
			sum.Tally[userID] = tally
			sum.Users = append(sum.Users, userID)
		}
		tally.Turns++
		tally.Stage = resp.StageInfo
		tally.Mood = resp.MoodIndex
		switch resp.AlertFlag {
		case string(emotion.AlertWarning):
			tally.Warnings++
		case string(emotion.AlertCrisis):
			tally.Crises++
		}

		if replayVerbose {
			fmt.Fprintf(w, "[%d] %s: %s\n", t.Line, userID, t.Text)
			printReply(w, resp)
		}
	}
	return sum, nil
}

func printReplaySummary(w io.Writer, total int, sum *replaySummary) {
	fmt.Fprintf(w, "replayed %d of %d turns", total-sum.Rejected, total)
	if sum.Rejected > 0 {
		fmt.Fprintf(w, " (%d rejected)", sum.Rejected)
	}
	fmt.Fprintln(w)
	for _, id := range sum.Users {
		t := sum.Tally[id]
		fmt.Fprintf(w, "  %-20s turns=%d stage=%s mood=%s warnings=%d crises=%d\n",
			id, t.Turns, t.Stage, t.Mood, t.Warnings, t.Crises)
	}
}
