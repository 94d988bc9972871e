package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	certservice "certledger/internal/certificate/service"
	certstore "certledger/internal/certificate/store"
	"certledger/internal/content"
	issuanceservice "certledger/internal/issuance/service"
	"certledger/internal/ledger"
	"certledger/internal/minting/lock"
	"certledger/internal/platform/config"
	"certledger/internal/platform/kafka"
	"certledger/internal/platform/kafka/producer"
	"certledger/internal/platform/postgres"
	"certledger/internal/platform/redis"
	quotaservice "certledger/internal/quota/service"
	quotastore "certledger/internal/quota/store"
	"certledger/internal/reconcile"
	verifyservice "certledger/internal/verification/service"
	"certledger/pkg/platform/audit"
	auditmemory "certledger/pkg/platform/audit/store/memory"
	auditpostgres "certledger/pkg/platform/audit/store/postgres"
	auditworker "certledger/pkg/platform/audit/worker"
)

// certificateStore is the store surface the services share. Both the
// in-memory and the Postgres store satisfy it.
type certificateStore interface {
	issuanceservice.CertificateStore
	certservice.Store
	verifyservice.CertificateLookup
	reconcile.BindStore
}

// infra holds the backing services chosen by configuration. Nil fields are
// not configured.
type infra struct {
	db       *sql.DB
	redis    *redis.Client
	producer *producer.Producer

	certs  certificateStore
	usage  quotaservice.UsageStore
	audits audit.Store
	outbox auditworker.Outbox
	tx     issuanceservice.StoreTx
	locker lock.Locker
	ledger ledger.Client
	cas    content.Addresser
	queue  reconcile.Queue
	memQ   *reconcile.MemoryQueue
}

func openInfra(ctx context.Context, cfg config.Config, logger *slog.Logger) (*infra, error) {
	in := &infra{}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		in.db = db
		in.certs = certstore.NewPostgres(db)
		in.usage = quotastore.NewPostgresUsageStore(db)
		pgAudit := auditpostgres.New(db)
		in.audits, in.outbox = pgAudit, pgAudit
		in.tx = postgres.NewTxRunner(db, cfg.Database.TxTimeout)
		logger.InfoContext(ctx, "using postgres stores")
	} else {
		in.certs = certstore.NewInMemoryStore()
		in.usage = quotastore.NewInMemoryUsageStore()
		memAudit := auditmemory.NewInMemoryStore()
		in.audits, in.outbox = memAudit, memAudit
		in.tx = issuanceservice.NewInMemoryTx()
		logger.InfoContext(ctx, "using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		in.close()
		return nil, err
	}
	if rc != nil {
		in.redis = rc
		in.locker = lock.NewRedisLocker(rc.Client, cfg.Minting.LockTTL, cfg.Minting.LockWait)
		logger.InfoContext(ctx, "using redis mint lock")
	} else {
		in.locker = lock.NewKeyedLocker()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.TopicPartitions, cfg.Kafka.ReplicationFactor,
			cfg.Kafka.PendingBindTopic, cfg.Kafka.AuditTopic); err != nil {
			in.close()
			return nil, err
		}
		p, err := producer.New(cfg.Kafka.Brokers)
		if err != nil {
			in.close()
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		in.producer = p
		in.queue = reconcile.NewKafkaQueue(p, cfg.Kafka.PendingBindTopic)
		logger.InfoContext(ctx, "using kafka pending-bind queue", "topic", cfg.Kafka.PendingBindTopic)
	} else {
		in.memQ = reconcile.NewMemoryQueue(cfg.Minting.BindBackoff)
		in.queue = in.memQ
	}

	if cfg.Ledger.GatewayURL != "" {
		in.ledger = ledger.NewHTTPClient(cfg.Ledger.GatewayURL, cfg.Ledger.APIKey, cfg.Ledger.Timeout)
	} else {
		logger.WarnContext(ctx, "LEDGER_GATEWAY_URL not set, using in-memory ledger")
		in.ledger = ledger.NewInMemoryLedger()
	}

	if cfg.Content.APIURL != "" {
		in.cas = content.NewIPFSClient(cfg.Content.APIURL, cfg.Content.Timeout)
	} else {
		local, err := content.NewLocalAddresser(cfg.Content.LocalDir)
		if err != nil {
			in.close()
			return nil, err
		}
		in.cas = local
	}

	return in, nil
}

// health pings every configured backend.
func (in *infra) health(ctx context.Context) map[string]error {
	checks := map[string]error{}
	if in.db != nil {
		checks["postgres"] = in.db.PingContext(ctx)
	}
	if in.redis != nil {
		checks["redis"] = in.redis.Health(ctx)
	}
	if in.producer != nil {
		checks["kafka"] = in.producer.Ping(ctx)
	}
	return checks
}

func (in *infra) close() {
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}
