package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/payment/status"
	purchaserepo "github.com/smallbiznis/gamestore/internal/purchase/repository"
	"github.com/smallbiznis/gamestore/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type watchOptions struct {
	serverURL string
	token     string
	order     string
	user      string
	gateway   string
	game      string
	direct    bool
	interval  time.Duration
	attempts  int
}

func watchCmd() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a purchase until it completes, fails or the attempt budget runs out",
		Long: `Poll the status endpoint of a running server for one order.

With --direct the purchase store is read when the server cannot answer.

Examples:
  gamestore watch --order INV-01J... --token $TOKEN
  gamestore watch --order 5O190127TN364715T --user U1 --game G1 --direct`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	defaults := config.DefaultCheckoutConfig().StatusPoll
	cmd.Flags().StringVar(&opts.serverURL, "server", "http://localhost:8080", "base URL of the running server")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token for the status endpoint")
	cmd.Flags().StringVar(&opts.order, "order", "", "gateway order id or invoice number")
	cmd.Flags().StringVar(&opts.user, "user", "", "user id, required with --direct")
	cmd.Flags().StringVar(&opts.gateway, "gateway", "", "gateway name (paypal or doku)")
	cmd.Flags().StringVar(&opts.game, "game", "", "game id, enables the ownership fallback")
	cmd.Flags().BoolVar(&opts.direct, "direct", false, "fall back to reading the database directly")
	cmd.Flags().DurationVar(&opts.interval, "interval", defaults.Interval, "poll interval")
	cmd.Flags().IntVar(&opts.attempts, "attempts", defaults.MaxAttempts, "maximum polls after the first check")
	_ = cmd.MarkFlagRequired("order")

	return cmd
}

func runWatch(cmd *cobra.Command, opts watchOptions) error {
	if opts.direct && opts.user == "" {
		return fmt.Errorf("--user is required with --direct")
	}

	var checker status.Checker = status.NewRemoteChecker(opts.serverURL, opts.token, &http.Client{Timeout: 10 * time.Second})
	if opts.direct {
		cfg := config.Load()
		conn, err := db.Open(nil, db.ConfigFrom(cfg), zap.NewNop())
		if err != nil {
			return err
		}
		if sqlDB, err := conn.DB(); err == nil {
			defer sqlDB.Close()
		}
		direct := status.NewService(status.Params{DB: conn, Log: zap.NewNop(), Repo: purchaserepo.Provide()})
		checker = status.WithFallback(checker, direct)
	}

	out := cmd.OutOrStdout()
	poller := &status.Poller{
		Checker:     checker,
		Interval:    opts.interval,
		MaxAttempts: opts.attempts,
		OnTransition: func(from, to status.State) {
			fmt.Fprintf(out, "%s -> %s\n", from, to)
		},
	}

	res := poller.Run(cmd.Context(), status.Query{
		UserID:         opts.user,
		GatewayOrderID: opts.order,
		Gateway:        opts.gateway,
		GameID:         opts.game,
	})

	switch {
	case res.State.Terminal():
		fmt.Fprintf(out, "purchase %s after %d checks\n", res.State, res.Attempts)
	case res.Exhausted:
		fmt.Fprintf(out, "still pending after %d checks, check again later\n", res.Attempts)
	}
	if res.Err != nil && !res.State.Terminal() {
		return res.Err
	}
	return nil
}
