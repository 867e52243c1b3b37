package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/media"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/persistence"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/service"
)

// runtime holds the connections a command needs.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	pg     *persistence.Postgres
	store  repository.Store
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, pg: pg, store: repository.NewStore(pg.Pool)}, nil
}

func (r *runtime) close() {
	r.pg.Close()
	_ = r.logger.Sync()
}

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			if err := persistence.RunMigrations(cmd.Context(), rt.pg.Pool, dir, rt.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", persistence.DefaultMigrationsDir, "directory holding .sql migrations")
	return cmd
}

func newSweepEvidenceCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "sweep-evidence",
		Short: "Redact evidence on tickets finished before the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			if retention <= 0 {
				retention = rt.cfg.Workflow.EvidenceRetention
			}

			redis := persistence.NewRedis(cmd.Context(), rt.cfg.Redis, rt.logger)
			defer redis.Close()
			var store media.Store = media.DisabledStore{}
			if rt.cfg.Media.Enabled() {
				if store, err = media.NewCloudinaryStore(rt.cfg.Media); err != nil {
					return err
				}
			}

			queue := media.NewDeletionQueue(redis.Client, rt.cfg.Media.DeletionQueueKey, store, rt.logger)
			audit := service.NewAuditService(rt.store.Repos().Audit, rt.logger)
			sweeper := service.NewExpirationSweeper(service.RedactionPolicy{
				Retention:   retention,
				Placeholder: rt.cfg.Workflow.EvidencePlaceholderURL,
			}, service.ExpirationDependencies{
				Store:   rt.store,
				Remover: queue,
				Locker:  redis,
				Audit:   audit,
				Logger:  rt.logger,
			})
			n, err := sweeper.SweepExpired(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "redacted %d images\n", n)
			if pending, lerr := queue.Len(cmd.Context()); lerr == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d deletions queued\n", pending)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override EVIDENCE_RETENTION")
	return cmd
}

func newPruneAuditCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune-audit",
		Short: "Delete audit entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			if days <= 0 {
				days = rt.cfg.Scheduler.AuditRetentionDays
			}
			audit := service.NewAuditService(rt.store.Repos().Audit, rt.logger)
			removed, err := audit.Prune(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d audit entries\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "override AUDIT_RETENTION_DAYS")
	return cmd
}

type seedUserOptions struct {
	name     string
	username string
	email    string
	password string
	role     string
}

func (o seedUserOptions) validate() (domain.Role, error) {
	role := domain.Role(strings.ToUpper(o.role))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", o.role)
	}
	if strings.TrimSpace(o.username) == "" || strings.TrimSpace(o.name) == "" {
		return "", fmt.Errorf("--name and --username are required")
	}
	if len(o.password) < 8 {
		return "", fmt.Errorf("--password must be at least 8 characters")
	}
	return role, nil
}

func newSeedUserCmd() *cobra.Command {
	var opts seedUserOptions
	cmd := &cobra.Command{
		Use:   "seed-user",
		Short: "Create an account, typically the first department head",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := opts.validate()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			hash, err := auth.HashPassword(opts.password, rt.cfg.Auth.BcryptCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			user := &domain.User{
				Name:         opts.name,
				Username:     opts.username,
				Email:        opts.email,
				PasswordHash: hash,
				Role:         role,
				Status:       domain.UserStatusActive,
			}
			if err := rt.store.Repos().Users.Create(cmd.Context(), user); err != nil {
				if repository.IsUniqueViolation(err) {
					return fmt.Errorf("user %q already exists", opts.username)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s, %s)\n", user.ID, user.Username, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.username, "username", "", "login name")
	cmd.Flags().StringVar(&opts.email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.password, "password", "", "initial password")
	cmd.Flags().StringVar(&opts.role, "role", string(domain.RoleDepartmentHead), "account role")
	return cmd
}
