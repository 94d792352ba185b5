// Command ledgerd is the MasterDaemon entrypoint: it wires the store,
// knowledge base, accounting/audit pipeline, match engine, interaction hub
// and collector into one supervised process group and serves the webhook
// callback surface (spec §4.1).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexledger/ledgerd/internal/accounting"
	"github.com/nexledger/ledgerd/internal/audit"
	"github.com/nexledger/ledgerd/internal/collector"
	"github.com/nexledger/ledgerd/internal/config"
	"github.com/nexledger/ledgerd/internal/daemon"
	"github.com/nexledger/ledgerd/internal/egress"
	"github.com/nexledger/ledgerd/internal/interaction"
	"github.com/nexledger/ledgerd/internal/knowledge"
	"github.com/nexledger/ledgerd/internal/match"
	"github.com/nexledger/ledgerd/internal/platform/database"
	"github.com/nexledger/ledgerd/internal/platform/migrations"
	"github.com/nexledger/ledgerd/internal/pipeline"
	"github.com/nexledger/ledgerd/internal/privacy"
	"github.com/nexledger/ledgerd/internal/runtime"
	"github.com/nexledger/ledgerd/internal/store"
	"github.com/nexledger/ledgerd/internal/webhook"
	"github.com/nexledger/ledgerd/pkg/logger"
	"github.com/nexledger/ledgerd/pkg/version"
)

func main() {
	storePath := flag.String("store", "", "path to the SQLite ledger file (overrides config/env)")
	listenAddr := flag.String("listen", "", "webhook HTTP listen address (overrides config/env)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		log.Println(version.FullVersion())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Store.Path = runtime.ResolveString(*storePath, "LEDGER_STORE_PATH", cfg.Store.Path)
	cfg.Interaction.ListenAddr = runtime.ResolveString(*listenAddr, "LEDGER_INTERACTION_LISTEN_ADDR", cfg.Interaction.ListenAddr)

	if runtime.StrictOperatorMode() {
		if len(cfg.Egress.Allowlist) == 0 {
			log.Fatalf("strict operator mode (%s): LEDGER_EGRESS_ALLOWLIST must be set", runtime.Env())
		}
		if cfg.Interaction.CallbackSecret == "" {
			log.Fatalf("strict operator mode (%s): LEDGER_INTERACTION_CALLBACK_SECRET must be set", runtime.Env())
		}
	}

	log_ := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	log_.AddHook(privacy.NewRedactionHook())

	rootCtx := context.Background()

	db, err := database.Open(rootCtx, database.Options{
		Path:          cfg.Store.Path,
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
		SyncMode:      cfg.Store.SyncMode,
		CacheMB:       cfg.Store.CacheMB,
	})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(rootCtx, db); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	st := store.New(db)
	snap := store.NewSnapshotter(st, cfg.Store.Path, cfg.Store.SnapshotDir)

	bridge := knowledge.New()
	sqlStore := &knowledge.SQLStore{DB: st.DB()}
	rulesMgr := knowledge.NewManager(sqlStore, bridge)

	activeRules, err := st.ListActiveRules(rootCtx)
	if err != nil {
		log.Fatalf("load active rules: %v", err)
	}
	distilled, distillErrs := rulesMgr.DistillConflicts(rootCtx, activeRules, time.Now().UnixMilli())
	for _, distillErr := range distillErrs {
		log_.WithError(distillErr).Warn("ledgerd: rule distillation failed to evict a conflicting rule")
	}
	for _, loadErr := range bridge.Reload(distilled) {
		log_.WithError(loadErr).Warn("ledgerd: rule failed to compile, skipped")
	}

	guard := privacy.NewGuard()

	dailyBudget := accounting.NewTokenBudget(cfg.Accounting.TokenBudgetDaily, 86400)
	monthlyBudget := accounting.NewTokenBudget(cfg.Accounting.TokenBudgetMonthly, 30*86400)

	reasoner := egress.New(cfg.Egress, guard, cfg.Egress.ReasonerEndpoint, "egress", dailyBudget, log_)

	router := accounting.NewRouter(accounting.RouterConfig{
		L2Enabled:             cfg.Accounting.L2Enabled,
		L2StepCap:             cfg.Accounting.L2StepCap,
		L1ConfidenceBand:      cfg.Accounting.L1ConfidenceBand,
		LowConfidenceUpgradeN: cfg.Accounting.LowConfidenceUpgradeN,
		CacheSize:             cfg.Accounting.CacheSize,
		CacheTTL:              time.Duration(cfg.Accounting.CacheTTLS) * time.Second,
	}, bridge, reasoner, dailyBudget, monthlyBudget, nil)

	redLines := audit.NewRedLineChecker(cfg.Audit.RedLines, cfg.Audit.AbsoluteCeiling)
	judges := []audit.Judge{
		audit.NewComplianceJudge(),
		audit.NewFinanceJudge(cfg.Audit.AmountTierT1),
		audit.NewTaxJudge(nil),
	}
	auditor := audit.NewAuditor(redLines, judges, audit.Strategy(cfg.Audit.Strategy), cfg.Audit.ReviewBand, 0.7, 0.5)

	pid := os.Getpid()
	nowFn := func() int64 { return time.Now().UnixMilli() }

	matchEngine := match.NewEngine(st, cfg.Match, log_, "match", pid, int64(cfg.Daemon.ChainVerifyWindow))

	hub := interaction.New(st, rulesMgr, cfg.Interaction.CallbackSecret, cfg.Interaction.ReplayWindowS)
	dispatcher := interaction.NewDispatcher(st, &interaction.HTTPSender{URL: cfg.Interaction.OutboxWebhookURL}, log_,
		cfg.Interaction.OutboxMaxAttempts,
		time.Duration(cfg.Interaction.OutboxBackoffBaseMS)*time.Millisecond,
		cfg.Interaction.OutboxDepthAlert)

	pipe := pipeline.New(st, router, auditor, rulesMgr, hub, log_, "pipeline", pid, nowFn,
		time.Duration(cfg.Interaction.CardTTLS)*time.Second)

	var ocr collector.OCREngine
	if cfg.Collector.OCREndpoint != "" {
		ocr = collector.NewHTTPOCREngine(cfg.Collector.OCREndpoint, time.Duration(cfg.Collector.OCRTimeoutS)*time.Second)
	}
	coll := collector.New(st, cfg.Collector, log_, nowFn, ocr)

	webhookSrv := webhook.New(hub, cfg.Interaction.ListenAddr, log_, nowFn)

	outboxPoll := time.Duration(cfg.Interaction.OutboxPollS) * time.Second
	if outboxPoll <= 0 {
		outboxPoll = 2 * time.Second
	}

	workers := []*daemon.Worker{
		{
			Name: "interaction",
			Run: func(ctx context.Context) error {
				ticker := time.NewTicker(outboxPoll)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if _, err := dispatcher.PollOnce(ctx, nowFn()); err != nil {
							log_.WithError(err).Warn("interaction: outbox poll failed")
						}
					}
				}
			},
		},
		{
			Name: "pipeline",
			Run: func(ctx context.Context) error {
				return pipe.Run(ctx, 3*time.Second)
			},
		},
		{
			Name: "match",
			Run: func(ctx context.Context) error {
				ticker := time.NewTicker(10 * time.Second)
				defer ticker.Stop()
				offset := 0
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						now := nowFn()
						n, err := matchEngine.ReconcileBatch(ctx, offset, now)
						if err != nil {
							log_.WithError(err).Warn("match: reconcile batch failed")
						}
						if n == 0 {
							offset = 0
						} else {
							offset += n
						}
						if _, err := matchEngine.HuntEvidence(ctx, now); err != nil {
							log_.WithError(err).Warn("match: hunt evidence failed")
						}
					}
				}
			},
		},
		{
			Name:  "collector",
			Run:   coll.Run,
			Probe: coll.Probe,
		},
	}

	d := daemon.New(st, snap, matchEngine, cfg.Daemon, log_, nowFn, 0, workers)

	if err := d.Start(rootCtx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}
	webhookErrCh := webhookSrv.Start()

	log_.WithFields(map[string]interface{}{
		"listen_addr": cfg.Interaction.ListenAddr,
		"version":     version.FullVersion(),
		"environment": runtime.Env(),
	}).Info("ledgerd: started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log_.WithField("signal", sig.String()).Info("ledgerd: shutdown signal received")
	case err := <-webhookErrCh:
		if err != nil {
			log_.WithError(err).Error("ledgerd: webhook server failed")
		}
	}

	d.Shutdown(cfg.Daemon.GraceShutdown())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webhookSrv.Stop(shutdownCtx); err != nil {
		log_.WithError(err).Warn("ledgerd: webhook server shutdown error")
	}
}
