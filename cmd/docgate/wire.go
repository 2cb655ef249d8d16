package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"docgate/internal/app"
	"docgate/internal/cache"
	"docgate/internal/changes"
	"docgate/internal/config"
	"docgate/internal/email"
	"docgate/internal/export"
	"docgate/internal/folders"
	"docgate/internal/gateway"
	"docgate/internal/generator"
	"docgate/internal/gitrepo"
	"docgate/internal/ingest"
	"docgate/internal/resilience"
	"docgate/internal/review"
	"docgate/internal/search"
	"docgate/internal/security"
	"docgate/internal/source"
	"docgate/internal/store"
)

// components is everything a command may need. Optional backends stay nil
// when their configuration is absent.
type components struct {
	queue     *review.Queue
	audit     *store.AuditRepository
	ledger    *gitrepo.Service
	publisher *gateway.DirPublisher

	cache     *cache.DocumentCache
	breakers  *resilience.Registry
	validator *folders.Validator
	meili     *search.Meili
	runner    *app.Runner

	closers []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// service builds the HTTP-facing service over whatever was wired.
func (c *components) service() *app.Service {
	deps := app.Deps{
		Reviews:   c.queue,
		Publisher: c.publisher,
		Logger:    logger,
	}
	if c.ledger != nil {
		deps.Ledger = c.ledger
	}
	if c.audit != nil {
		deps.Audit = c.audit
	}
	if c.cache != nil {
		deps.Cache = c.cache
	}
	if c.breakers != nil {
		deps.Breakers = c.breakers
	}
	if c.validator != nil {
		deps.Folders = c.validator
	}
	if c.meili != nil {
		deps.Search = c.meili
	}
	if c.runner != nil {
		deps.Syncer = c.runner
	}
	return app.NewService(deps)
}

// buildReviews wires the review queue with its audit sinks, notifiers and
// decision ledger.
func buildReviews(ctx context.Context, cfg config.Config) (*components, error) {
	c := &components{publisher: gateway.NewDirPublisher(cfg.OutputDir)}
	formats, err := export.ParseFormats(cfg.OutputFormats)
	if err != nil {
		return nil, err
	}
	if len(formats) > 0 {
		c.publisher.WithRenderer(export.NewRenderer(formats), logger)
	}

	var reviewStore review.Store
	switch strings.ToLower(cfg.ReviewStore) {
	case "s3":
		objects, err := review.NewObjectStore(ctx, review.ObjectConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Key:       "reviews.json",
		})
		if err != nil {
			return nil, fmt.Errorf("review object store: %w", err)
		}
		reviewStore = objects
	case "", "file":
		reviewStore = review.NewFileStore(cfg.ReviewFile, logger)
	default:
		return nil, fmt.Errorf("unknown review store %q", cfg.ReviewStore)
	}

	sinks := []review.AuditSink{}
	jsonl, err := review.NewJSONLSink(cfg.AuditLogFile)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	sinks = append(sinks, jsonl)

	if cfg.DatabaseURL != "" {
		repo, db, err := store.OpenAudit(ctx, cfg.DatabaseURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("audit database: %w", err)
		}
		c.closers = append(c.closers, func() { _ = db.Close() })
		c.audit = repo
		sinks = append(sinks, repo)
	}

	notifiers := []review.Notifier{}
	if cfg.SMTPHost != "" && len(cfg.ReviewNotify) > 0 {
		mailer := email.NewService(email.Config{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			From:      cfg.SMTPFrom,
			FromName:  cfg.SMTPFromName,
			EnableTLS: true,
		})
		notifiers = append(notifiers, review.NewEmailNotifier(mailer, cfg.ReviewNotify, cfg.ReviewURLBase))
	}
	if cfg.NATSURL != "" {
		conn, err := review.ConnectNATS(cfg.NATSURL)
		if err != nil {
			// Notifications are best effort; reviews still queue.
			logger.Warn("nats unavailable, review notifications disabled", "error", err)
		} else {
			c.closers = append(c.closers, conn.Close)
			notifiers = append(notifiers, review.NewNATSNotifier(conn, cfg.NATSSubject))
		}
	}

	c.ledger = gitrepo.New(cfg.LedgerDir)
	if err := c.ledger.EnsureRepo(); err != nil {
		c.Close()
		return nil, fmt.Errorf("decision ledger: %w", err)
	}

	c.queue = review.NewQueue(reviewStore,
		review.WithLogger(logger),
		review.WithAudit(review.Tee(sinks...)),
		review.WithNotifier(review.Multi(notifiers...)),
		review.WithLedger(c.ledger),
		review.WithMaxHistory(cfg.ReviewMaxHistory),
	)
	return c, nil
}

// buildPipeline adds the document source, ingest pipeline, gateway and
// runner on top of the review components.
func buildPipeline(ctx context.Context, cfg config.Config, c *components) error {
	if cfg.DriveCredentialsFile == "" {
		return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS is not set")
	}
	credentials, err := os.ReadFile(cfg.DriveCredentialsFile)
	if err != nil {
		return fmt.Errorf("read drive credentials: %w", err)
	}
	drive, err := source.NewDriveFromCredentials(ctx, credentials, source.WithDriveLogger(logger))
	if err != nil {
		return err
	}

	whitelist, err := config.LoadWhitelist(cfg.WhitelistFile)
	if err != nil {
		return err
	}
	profiles, err := loadProfiles(cfg)
	if err != nil {
		return err
	}

	retry := resilience.NewExecutor(resilience.RetryConfig{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialDelay:   cfg.RetryInitialDelay,
		Factor:         2,
		MaxDelay:       cfg.RetryMaxDelay,
		Jitter:         true,
		AttemptTimeout: cfg.RetryAttemptTimeout,
	}, resilience.WithRetryLogger(logger))
	breakerCfg := resilience.DefaultBreakerConfig()
	breakerCfg.FailureThreshold = cfg.BreakerThreshold
	breakerCfg.ResetTimeout = cfg.BreakerReset
	c.breakers = resilience.NewRegistry(breakerCfg, resilience.WithBreakerLogger(logger))
	readBudget := resilience.Budget{PerSecond: cfg.DriveReadPerSecond, Burst: cfg.DriveReadBurst}
	limiter := resilience.NewLimiter(readBudget, map[string]resilience.Budget{
		source.ClassRead:       readBudget,
		gateway.ClassGenerator: {PerSecond: cfg.GeneratorPerSecond, Burst: 1},
	})
	src := source.NewGuarded(drive, limiter, c.breakers, retry)

	c.cache, err = cache.Open(cfg.RedisURL, cfg.CacheSnapshot, cache.WithLogger(logger))
	if err != nil {
		return err
	}
	c.closers = append(c.closers, func() { _ = c.cache.Close() })

	c.validator = folders.NewValidator(src, whitelist.Folders, whitelist.Mode, folders.WithLogger(logger))
	monitor := changes.NewMonitor(src, c.cache, c.validator, changes.WithLogger(logger))

	scanner, err := security.NewSecretScanner()
	if err != nil {
		return err
	}
	sanitizerCfg := security.DefaultSanitizerConfig()
	sanitizerCfg.DensityThreshold = cfg.SanitizerDensity
	sanitizer, err := security.NewSanitizer(sanitizerCfg)
	if err != nil {
		return err
	}
	outputValidator, err := security.NewOutputValidator(scanner)
	if err != nil {
		return err
	}

	ingestOpts := []ingest.Option{ingest.WithLogger(logger), ingest.WithConcurrency(cfg.SyncConcurrency)}
	if cfg.MeiliURL != "" {
		c.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		c.closers = append(c.closers, c.meili.Close)
		ingestOpts = append(ingestOpts, ingest.WithIndexer(c.meili))
	}
	pipeline := ingest.New(c.validator, monitor, src, c.cache, scanner, ingestOpts...)

	gen, err := generator.NewOpenAI(generator.Config{
		APIKey:      cfg.OpenAIKey,
		Model:       cfg.OpenAIModel,
		BaseURL:     cfg.OpenAIBaseURL,
		Temperature: float32(cfg.OpenAITemperature),
		MaxTokens:   cfg.OpenAIMaxTokens,
	}, logger)
	if err != nil {
		return err
	}
	gw := gateway.New(sanitizer, scanner, outputValidator, gen, c.queue, c.breakers, retry,
		gateway.WithLogger(logger),
		gateway.WithLimiter(limiter),
		gateway.WithConcurrency(cfg.GatewayWorkers),
	)

	c.runner = app.NewRunner(pipeline, gw, c.publisher, profiles, cfg.Instruction, logger)
	logger.Info("pipeline ready",
		"folders", len(whitelist.Folders),
		"mode", whitelist.Mode,
		"profiles", len(profiles),
		"cache", c.cache.Backend())
	return nil
}

func loadProfiles(cfg config.Config) ([]security.Profile, error) {
	var (
		all []security.Profile
		err error
	)
	if cfg.ProfilesFile != "" {
		all, err = security.LoadProfiles(cfg.ProfilesFile)
	} else {
		all, err = security.DefaultProfiles()
	}
	if err != nil {
		return nil, err
	}
	return security.SelectProfiles(all, cfg.Profiles)
}
