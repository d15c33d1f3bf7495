package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/linnemanlabs/watchpost/internal/identity"
)

func newTokenCmd() *cobra.Command {
	var (
		station string
		agent   string
		key     string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed agent token",
		Long: `Issue an HS256 token identifying an agent of a station.

The signing key must match the server's --jwt-signing-key. It defaults to
$WATCHPOST_JWT_SIGNING_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				return errors.New("signing key is required (--key or WATCHPOST_JWT_SIGNING_KEY)")
			}
			tok, err := identity.NewManager(key, ttl).Issue(identity.Identity{
				Station: alert.StationID(station),
				Agent:   alert.AgentID(agent),
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&station, "station", "", "Station id the agent belongs to")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent id")
	cmd.Flags().StringVar(&key, "key", os.Getenv("WATCHPOST_JWT_SIGNING_KEY"), "HMAC signing key")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("station")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}
