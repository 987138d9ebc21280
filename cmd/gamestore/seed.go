package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/migration"
	"github.com/smallbiznis/gamestore/internal/observability"
	"github.com/smallbiznis/gamestore/internal/seed"
	"github.com/smallbiznis/gamestore/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Migrate and insert the starter game catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				migration.Module,
				fx.Populate(&conn),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Stop(context.Background())

			created, err := seed.EnsureGames(ctx, conn, seed.DefaultGames)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d games (%d new)\n", len(seed.DefaultGames), created)
			return nil
		},
	}
}
