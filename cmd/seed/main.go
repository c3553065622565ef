// Command seed loads a JSON campus fixture into MongoDB and can mint development
// tokens for seeded users.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/campusdesk/analytics/internal/cache"
	"github.com/campusdesk/analytics/internal/config"
	"github.com/campusdesk/analytics/internal/database"
	"github.com/campusdesk/analytics/internal/store"
	"github.com/campusdesk/analytics/internal/tokens"
	"github.com/campusdesk/analytics/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "seed",
		Short:        "Load campus data for the analytics service",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Configure(os.Getenv("LOG_LEVEL"), "console")
		},
	}
	root.AddCommand(newLoadCommand(), newTokenCommand())
	return root
}

func newLoadCommand() *cobra.Command {
	var (
		file       string
		indexes    bool
		invalidate bool
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Validate a fixture file and insert it into MongoDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.MongoDB.URI == "" {
				return fmt.Errorf("MONGODB_URI is required to seed")
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			fx, err := decodeFixture(f)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, cfg.MongoDB.Retries)
			if err != nil {
				return err
			}
			defer func() { _ = client.Disconnect(context.Background()) }()
			st := store.NewMongoStore(client.Database(cfg.MongoDB.Database))
			if indexes {
				if err := st.EnsureIndexes(ctx); err != nil {
					return err
				}
			}

			counts, err := load(ctx, st, fx, time.Now())
			if err != nil {
				return err
			}
			for _, c := range store.Collections {
				logger.Infof("seed: %s: %d documents", c, counts[c])
			}

			if invalidate && cfg.Redis.Addr() != "" {
				rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
				defer rc.Close()
				n, err := cache.NewRedisCache(rc, cfg.Cache.Prefix, cfg.Cache.TTL).Invalidate(ctx)
				if err != nil {
					logger.Warnf("seed: cache invalidation failed: %v", err)
				} else {
					logger.Infof("seed: dropped %d cached results", n)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "cmd/seed/testdata/campus.json", "fixture file")
	cmd.Flags().BoolVar(&indexes, "indexes", true, "create lookup indexes before loading")
	cmd.Flags().BoolVar(&invalidate, "invalidate-cache", true, "drop cached recipe results after loading")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <userName>",
		Short: "Print an HS256 access token for a seeded user (JWT_SECRET must be set)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.MongoDB.URI == "" {
				return fmt.Errorf("MONGODB_URI is required to look up %q", args[0])
			}
			if ttl <= 0 {
				ttl = cfg.JWT.AccessTokenTTL
			}
			ctx := cmd.Context()
			client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, cfg.MongoDB.Retries)
			if err != nil {
				return err
			}
			defer func() { _ = client.Disconnect(context.Background()) }()

			p, err := store.NewMongoStore(client.Database(cfg.MongoDB.Database)).FindPersonByUserName(ctx, args[0])
			if err != nil {
				return err
			}
			tok, err := tokens.GenerateAccessToken(cfg.JWT.Secret, p, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_ACCESS_TOKEN_TTL)")
	return cmd
}
