package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitpulse/internal/db"
	"github.com/habitpulse/internal/logger"
	"github.com/habitpulse/internal/realtime"
	"github.com/habitpulse/internal/router"
	"github.com/habitpulse/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the real-time listener and the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			gin.SetMode(a.cfg.GinMode)
			sched, err := a.newScheduler()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           router.SetupRouter(a.api, a.cfg.SessionSecret),
				ReadHeaderTimeout: 10 * time.Second,
			}
			listener := realtime.NewListener(a.bus, a.api.Registry())

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.L().Info("http_server_started", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return listener.Run(ctx)
			})
			g.Go(func() error {
				return sched.Run(ctx)
			})

			err = g.Wait()
			logger.L().Info("server_stopped", zap.Error(err))
			return err
		},
	}
}

func newRecomputeCommand() *cobra.Command {
	var habitID uint

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute derived habit stats from the stored logs",
		Long: `Recompute rebuilds streaks, consistency, risk status and linked goals
from the habit log table. Without --habit every habit is recomputed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ids := []uint{habitID}
			if habitID == 0 {
				if err := db.DB.WithContext(cmd.Context()).Model(&db.Habit{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
					return fmt.Errorf("list habits: %w", err)
				}
			}

			failed := 0
			for _, id := range ids {
				if _, err := a.api.Habits().RecomputeAll(cmd.Context(), id); err != nil {
					failed++
					logger.L().Error("recompute_failed", zap.Uint("habit_id", id), zap.Error(err))
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "recomputed %d habits, %d failed\n", len(ids)-failed, failed)
			if failed > 0 {
				return fmt.Errorf("%d habits failed to recompute", failed)
			}
			return nil
		},
	}

	cmd.Flags().UintVar(&habitID, "habit", 0, "recompute a single habit by id")
	return cmd
}

func newHousekeepingCommand() *cobra.Command {
	jobs := []string{service.JobDetectRisks, service.JobNudges, service.JobUpdateStreaks}

	return &cobra.Command{
		Use:       "housekeeping <job>",
		Short:     "Run one housekeeping job immediately",
		Long:      fmt.Sprintf("Run one housekeeping job immediately. Jobs: %v", jobs),
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.newScheduler()
			if err != nil {
				return err
			}
			report, err := sched.RunOnce(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newCreateUserCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := service.NewUserService(db.DB).Register(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "password (at least 6 characters)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
