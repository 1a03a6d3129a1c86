package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/solace/internal/client"
	"github.com/lazypower/solace/internal/engine"
)

var (
	chatUser   string
	chatType   string
	chatRemote bool
	chatURL    string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message, or read messages from stdin one per line",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", engine.DefaultUserID, "user id")
	chatCmd.Flags().StringVar(&chatType, "type", string(engine.DefaultUserType), "relationship to the deceased: partner, family or pet")
	chatCmd.Flags().BoolVar(&chatRemote, "remote", false, "talk to a running server instead of the local store")
	chatCmd.Flags().StringVar(&chatURL, "url", "", "server URL for --remote (default $SOLACE_URL or http://127.0.0.1:37778)")
}

// chatter is the part of the service chat needs; both the local engine
// and the HTTP client provide it.
type chatter interface {
	Chat(ctx context.Context, req engine.ChatRequest) (*engine.ChatResponse, error)
}

func runChat(cmd *cobra.Command, args []string) error {
	userType, err := engine.ParseUserType(chatType)
	if err != nil {
		return err
	}

	var svc chatter
	if chatRemote {
		svc = client.New(chatURL)
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
		svc = st.engine
	}

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return sendOne(cmd.Context(), svc, out, strings.Join(args, " "), userType)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}
		if err := sendOne(cmd.Context(), svc, out, msg, userType); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func sendOne(ctx context.Context, svc chatter, w io.Writer, msg string, userType engine.UserType) error {
	resp, err := svc.Chat(ctx, engine.ChatRequest{Message: msg, UserID: chatUser, UserType: userType})
	if err != nil {
		return err
	}
	printReply(w, resp)
	return nil
}

func printReply(w io.Writer, r *engine.ChatResponse) {
	fmt.Fprintln(w, r.Response)
	fmt.Fprintf(w, "  stage: %s (confidence %s)  mood: %s  user type: %s\n", r.StageInfo, r.Confidence, r.MoodIndex, r.UserType)
	if r.AlertFlag != "" {
		fmt.Fprintf(w, "  ALERT: %s\n", r.AlertFlag)
	}
}
