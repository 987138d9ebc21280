package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/migration"
	"github.com/smallbiznis/gamestore/internal/observability"
	"github.com/smallbiznis/gamestore/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			if steps == 0 {
				app := fx.New(
					config.Module,
					observability.Module,
					db.Module,
					migration.Module,
					fx.NopLogger,
				)
				if err := app.Err(); err != nil {
					return err
				}
				if err := app.Start(ctx); err != nil {
					return err
				}
				return app.Stop(ctx)
			}

			var conn *gorm.DB
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				fx.Populate(&conn),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Stop(context.Background())

			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			res, err := migration.Steps(sqlDB, steps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%v)\n", res.Version, res.Dirty)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "apply N migrations, or roll back N when negative (postgres only)")
	return cmd
}
