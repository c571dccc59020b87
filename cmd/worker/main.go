package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/db"
	"github.com/milestone-escrow/backend/internal/events"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/repositories"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "escrow-worker", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	milestoneRepo := repositories.NewMilestoneRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	ledger := custody.NewLedgerAdapter(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	log.Info("worker started",
		zap.Duration("deadline_scan_interval", cfg.DeadlineScanInterval),
		zap.Duration("ledger_audit_interval", cfg.LedgerAuditInterval),
	)

	deadlineTicker := time.NewTicker(cfg.DeadlineScanInterval)
	auditTicker := time.NewTicker(cfg.LedgerAuditInterval)
	defer deadlineTicker.Stop()
	defer auditTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-deadlineTicker.C:
			runDeadlineScan(ctx, milestoneRepo, auditRepo, publisher, rdb, cfg, log)
		case <-auditTicker.C:
			runLedgerAudit(ctx, ledger, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runDeadlineScan publishes overdue and deadline-approaching events for
// active milestones. It never mutates escrow state: deadlines are
// leverage for the parties (cancel, dispute), not automatic transitions.
func runDeadlineScan(ctx context.Context, milestoneRepo *repositories.MilestoneRepo, auditRepo *repositories.AuditRepo, publisher events.Publisher, rdb *redis.Client, cfg *config.Config, log *zap.Logger) {
	now := time.Now()

	overdue, err := milestoneRepo.ListOverdue(ctx, now)
	if err != nil {
		log.Error("failed to list overdue milestones", zap.Error(err))
	}
	for _, m := range overdue {
		notifyDeadline(ctx, auditRepo, publisher, rdb, events.EventMilestoneOverdue, m, 24*time.Hour, log)
	}

	soon, err := milestoneRepo.ListDeadlineSoon(ctx, now, cfg.DeadlineSoonWindow)
	if err != nil {
		log.Error("failed to list approaching deadlines", zap.Error(err))
	}
	for _, m := range soon {
		notifyDeadline(ctx, auditRepo, publisher, rdb, events.EventDeadlineApproaching, m, cfg.DeadlineSoonWindow, log)
	}
}

// notifyDeadline publishes one event per milestone per TTL window; the
// redis SETNX key is the dedupe.
func notifyDeadline(ctx context.Context, auditRepo *repositories.AuditRepo, publisher events.Publisher, rdb *redis.Client, eventType string, m repositories.MilestoneDeadline, ttl time.Duration, log *zap.Logger) {
	key := fmt.Sprintf("deadline_notice:%s:%d/%d", eventType, m.AgreementID, m.Idx)
	ok, err := rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		log.Error("deadline dedupe failed", zap.Error(err), zap.String("key", key))
		return
	}
	if !ok {
		return
	}

	entityID := fmt.Sprintf("%d/%d", m.AgreementID, m.Idx)
	_ = auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     eventType,
		EntityType: "milestone",
		EntityID:   &entityID,
		Meta:       map[string]any{"deadline": m.Deadline, "status": m.Status},
	})

	_ = publisher.Publish(ctx, "events:agreement", events.Event{
		Type: eventType,
		Payload: map[string]any{
			"agreement_id": m.AgreementID,
			"idx":          m.Idx,
			"title":        m.Title,
			"status":       m.Status,
			"deadline":     m.Deadline,
			"payer_id":     m.PayerID.String(),
			"payee_id":     m.PayeeID.String(),
		},
	})

	log.Info("deadline notice published",
		zap.String("event", eventType),
		zap.Int64("agreement_id", m.AgreementID),
		zap.Int("idx", m.Idx),
	)
}

// runLedgerAudit recomputes every escrow balance from the custody ledger
// and screams about mismatches. A drift row is always a bug.
func runLedgerAudit(ctx context.Context, ledger *custody.LedgerAdapter, log *zap.Logger) {
	drifts, err := ledger.FindDrift(ctx)
	if err != nil {
		log.Error("ledger audit failed", zap.Error(err))
		return
	}
	for _, d := range drifts {
		log.Error("escrow balance drift",
			zap.Int64("agreement_id", d.AgreementID),
			zap.Int64("balance", d.Balance),
			zap.Int64("expected", d.Expected),
		)
	}
	if len(drifts) == 0 {
		log.Debug("ledger audit clean")
	}
}
