package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/scanhub/internal/database"
	"github.com/hugh/scanhub/internal/database/models"
	"github.com/hugh/scanhub/internal/scans"
	"github.com/hugh/scanhub/internal/tasks"
	"github.com/hugh/scanhub/pkg/config"
	"github.com/hugh/scanhub/pkg/crypto"
	"github.com/hugh/scanhub/pkg/queue"
	"github.com/hugh/scanhub/pkg/util"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the users and scans tables",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(_ context.Context, e *env, cmd *cobra.Command, _ []string) error {
			if err := database.AutoMigrate(e.db); err != nil {
				return fmt.Errorf("migrating: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		}),
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fail scans that have been running longer than the stale threshold",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
			n, err := e.manager.ReconcileStale(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "failed %d stale scan(s) (threshold %s)\n", n, e.manager.StaleAfter())
			if next, err := util.NextCronTime(e.cfg.Worker.ReconcileCron, time.Now()); err == nil {
				fmt.Fprintf(out, "next scheduled pass at %s\n", next.UTC().Format(time.RFC3339))
			}
			return nil
		}),
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <scan-id>",
		Short: "Show one scan record",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid scan id %q", args[0])
			}
			rec, err := e.manager.GetScanStatus(ctx, id)
			if err != nil {
				return err
			}
			return renderScan(cmd.OutOrStdout(), rec)
		}),
	}
}

func newListCmd() *cobra.Command {
	var (
		owner    string
		status   string
		scanType string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's scans, newest first",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
			ownerID, err := resolveOwner(ctx, e.db, owner)
			if err != nil {
				return err
			}
			records, total, err := e.manager.ListScans(ctx, ownerID, scans.ListOptions{
				Status:   scans.Status(status),
				ScanType: scans.ScanType(scanType),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			if err := renderScans(cmd.OutOrStdout(), records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d scan(s)\n", len(records), total)
			return nil
		}),
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner email or user id (required)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&scanType, "type", "", "filter by scan type")
	cmd.Flags().IntVar(&limit, "limit", scans.DefaultPageSize, "maximum rows")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// resolveOwner accepts a user id or an email address.
func resolveOwner(ctx context.Context, db *gorm.DB, owner string) (uuid.UUID, error) {
	if id, err := uuid.Parse(owner); err == nil {
		return id, nil
	}
	var user models.User
	err := db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(owner))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, fmt.Errorf("no user with email %q", owner)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("looking up user: %w", err)
	}
	return user.ID, nil
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show dispatch and maintenance queue depths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			inspector := queue.NewInspector(&cfg.Redis)
			defer inspector.Close()

			rows, err := collectQueues(inspector, tasks.QueueScans, tasks.QueueMaintenance)
			if err != nil {
				return err
			}
			return renderQueues(cmd.OutOrStdout(), rows)
		},
	}
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

func collectQueues(inspector queueInspector, names ...string) ([]queueRow, error) {
	rows := make([]queueRow, 0, len(names))
	for _, name := range names {
		info, err := inspector.GetQueueInfo(name)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			// Queues only exist once something was enqueued on them.
			rows = append(rows, queueRow{Name: name})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspecting queue %s: %w", name, err)
		}
		rows = append(rows, queueRow{
			Name:      name,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
		})
	}
	return rows, nil
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new ENCRYPTION_KEY for sealing scan results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			enc, err := crypto.NewEncryptor(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			fmt.Fprintf(cmd.ErrOrStderr(), "# public key: %s\n", enc.PublicKey())
			return nil
		},
	}
}
