package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/solace/internal/client"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running server's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(statusURL)
		st, err := c.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("server at %s: %w", c.URL(), err)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s  %s\n", st.Status, st.Message)
		fmt.Fprintf(w, "  version:      %s\n", st.Version)
		fmt.Fprintf(w, "  active users: %d\n", st.ActiveUsers)
		fmt.Fprintf(w, "  backend:      %t\n", st.BackendAvailable)
		if st.Store != "" {
			fmt.Fprintf(w, "  store:        %s (breaker %s)\n", st.Store, st.Breaker)
		}
		fmt.Fprintf(w, "  as of:        %s\n", st.Timestamp.Format(time.RFC3339))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "server URL (default $SOLACE_URL or http://127.0.0.1:37778)")
}
