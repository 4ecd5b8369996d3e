// Package app wires the advisor engine from configuration. The worker
// process and the operator CLI share it.
package app

import (
	"context"
	"fmt"
	"time"

	"gap-advisor/internal/advisor/analysis"
	"gap-advisor/internal/advisor/completion"
	"gap-advisor/internal/advisor/contextwindow"
	"gap-advisor/internal/advisor/engine"
	"gap-advisor/internal/advisor/export"
	"gap-advisor/internal/advisor/quota"
	"gap-advisor/internal/advisor/store"
	"gap-advisor/internal/advisor/suggest"
	"gap-advisor/internal/advisor/tier"
	"gap-advisor/internal/advisor/variant"
	"gap-advisor/internal/common/aws"
	"gap-advisor/internal/common/config"
	"gap-advisor/internal/common/database"
	httpclient "gap-advisor/internal/common/http"
	"gap-advisor/internal/common/logger"

	"go.opentelemetry.io/otel/trace"
)

// App owns every connection the engine uses.
type App struct {
	Engine  *engine.Engine
	Store   *store.SQLStore
	Quota   *quota.Enforcer
	Counter quota.Counter
	Tiers   engine.TierProvider
	Mailer  *aws.SESClient

	SQL   *database.SQLClient
	Redis *database.RedisClient
	ES    *database.ElasticsearchClient

	cfg    *config.Config
	logger logger.Logger
}

// Build opens the connections, retrying each until it answers, and
// assembles the engine. tracer may be nil.
func Build(ctx context.Context, cfg *config.Config, tracer trace.Tracer, log logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: log.WithFields(map[string]interface{}{"component": "app"})}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.assemble(ctx, tracer, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	var err error
	if a.SQL, err = database.OpenSQL(a.cfg.Database); err != nil {
		return err
	}
	if err := retry(ctx, 15, 2*time.Second, a.logger, "database connection", a.SQL.Ping); err != nil {
		return err
	}

	if a.usesRedis() {
		a.Redis = database.NewRedis(a.cfg.Database.Redis)
		if err := retry(ctx, 10, 2*time.Second, a.logger, "redis connection", a.Redis.Ping); err != nil {
			return err
		}
	}

	if a.ES, err = database.NewElasticsearch(a.cfg.Database.Elasticsearch); err != nil {
		return err
	}
	return retry(ctx, 15, 2*time.Second, a.logger, "elasticsearch connection", a.ES.Ping)
}

func (a *App) usesRedis() bool {
	return a.cfg.Advisor.Quota.Backend == "redis" || a.cfg.Database.Redis.Address != ""
}

func (a *App) assemble(ctx context.Context, tracer trace.Tracer, log logger.Logger) error {
	cfg := a.cfg
	adv := cfg.Advisor

	a.Store = store.NewSQLStore(a.SQL.DB, a.SQL.Driver, store.Options{MaxMessageLength: adv.Turn.MaxMessageLength}, log)

	backend := completion.NewHTTPBackend(completion.Options{
		BaseURL:     cfg.APIs.GenAI.BaseURL,
		APIKey:      cfg.APIs.GenAI.APIKey,
		MaxTokens:   cfg.APIs.GenAI.MaxTokens,
		Temperature: cfg.APIs.GenAI.Temperature,
	}, log)

	generator := httpclient.NewClient(time.Duration(cfg.APIs.GenAI.Timeout)*time.Millisecond).
		WithBaseURL(cfg.APIs.GenAI.BaseURL).
		WithHeader("X-API-Key", cfg.APIs.GenAI.APIKey)
	analyses := analysis.NewESProvider(a.ES.Client, cfg.Database.Elasticsearch.AnalysisIndex, generator, log)

	a.Tiers = a.tierProvider(log)

	notifier, err := a.notifier(ctx)
	if err != nil {
		return err
	}
	if a.Redis != nil && adv.Quota.Backend == "redis" {
		a.Counter = quota.NewRedisCounter(a.Redis.Client)
	} else {
		a.Counter = quota.NewMemoryCounter()
	}
	a.Quota = quota.NewEnforcer(a.Counter, quota.PoliciesFromConfig(adv.Quota.Tiers), quota.Options{
		DefaultTier: adv.Quota.DefaultTier,
		Notifier:    notifier,
	}, log)

	var summarizer contextwindow.Summarizer
	if adv.Context.Summarizer == "backend" {
		summarizer = contextwindow.NewBackendSummarizer(backend, config.GetDuration(adv.Turn.BackendTimeout), log)
	}
	window := contextwindow.NewManager(contextwindow.Options{
		VerbatimThreshold: adv.Context.VerbatimThreshold,
		RecentMessages:    adv.Context.RecentMessages,
		MaxMessageChars:   adv.Context.MaxMessageChars,
		MaxSummaryChars:   adv.Context.MaxSummaryChars,
	}, summarizer, log)

	lex, err := variant.DefaultLexicon()
	if err != nil {
		return fmt.Errorf("load variant lexicon: %w", err)
	}
	detectorOpts := []variant.DetectorOption{variant.WithThreshold(adv.Detector.Threshold)}
	if adv.Detector.ClassifierEnabled {
		detectorOpts = append(detectorOpts, variant.WithClassifier(variant.NewHTTPClassifier(
			cfg.APIs.GenAI.BaseURL,
			cfg.APIs.GenAI.APIKey,
			time.Duration(adv.Detector.ClassifierTimeout)*time.Millisecond,
		)))
	}

	sink, err := a.sink(ctx)
	if err != nil {
		return err
	}

	if cfg.AWS.SES.Enabled {
		if a.Mailer, err = aws.NewSESClient(ctx, cfg.AWS.Region); err != nil {
			return fmt.Errorf("create ses client: %w", err)
		}
	}

	var lock engine.TurnLock
	if a.Redis != nil {
		lock = engine.NewRedisTurnLock(a.Redis.Client)
	}

	exporter := export.NewExporter(a.Store, analyses, sink, log)
	if adv.Export.PDFFont != "" {
		exporter.SetRenderer(export.FormatPDF, export.PDFRenderer{
			Compress:     true,
			FontPath:     adv.Export.PDFFont,
			BoldFontPath: adv.Export.PDFBoldFont,
		})
	}

	a.Engine = engine.New(engine.Deps{
		Store:     a.Store,
		Analyses:  analyses,
		Tiers:     a.Tiers,
		Quota:     a.Quota,
		Context:   window,
		Backend:   backend,
		Detector:  variant.NewDetector(lex, log, detectorOpts...),
		Brancher:  variant.NewBrancher(a.Store, analyses, log),
		Suggester: suggest.NewGenerator(adv.Suggestions.Max),
		Exporter:  exporter,
		Lock:      lock,
		Tracer:    tracer,
	}, engine.Options{
		BackendTimeout:   time.Duration(adv.Turn.BackendTimeout) * time.Millisecond,
		RetryBackoff:     time.Duration(adv.Turn.RetryBackoff) * time.Millisecond,
		LockTTL:          time.Duration(adv.Turn.LockTTL) * time.Millisecond,
		MaxMessageLength: adv.Turn.MaxMessageLength,
	}, log)
	return nil
}

// tierProvider reads subscriptions from Postgres. Without Postgres every
// user gets the default tier.
func (a *App) tierProvider(log logger.Logger) engine.TierProvider {
	q := a.cfg.Advisor.Quota
	if a.SQL.Driver != database.DriverPostgres {
		return tier.Static(q.DefaultTier)
	}

	known := make([]string, 0, len(q.Tiers))
	for name := range q.Tiers {
		known = append(known, name)
	}
	opts := tier.Options{
		DefaultTier: q.DefaultTier,
		KnownTiers:  known,
		CacheTTL:    time.Duration(q.TierCacheTTL) * time.Second,
	}
	if a.Redis != nil {
		return tier.NewProvider(a.SQL.DB, a.Redis.Client, opts, log)
	}
	return tier.NewProvider(a.SQL.DB, nil, opts, log)
}

func (a *App) notifier(ctx context.Context) (quota.Notifier, error) {
	sns := a.cfg.AWS.SNS
	if !sns.Enabled {
		return nil, nil
	}
	client, err := aws.NewSNSClient(ctx, a.cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("create sns client: %w", err)
	}
	return quota.NewSNSNotifier(client, sns.QuotaTopicARN), nil
}

func (a *App) sink(ctx context.Context) (export.ArtifactSink, error) {
	exp := a.cfg.Advisor.Export
	if exp.Sink != "s3" {
		return export.LocalSink{Dir: exp.LocalDir, URLPrefix: exp.URLPrefix}, nil
	}
	s3, err := aws.NewS3Client(ctx, a.cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return export.NewS3Sink(s3, a.cfg.AWS.S3.Bucket, a.cfg.AWS.S3.Prefix, time.Duration(a.cfg.AWS.S3.URLTTL)*time.Second), nil
}

// Migrate creates the conversation schema.
func (a *App) Migrate(ctx context.Context) error {
	return a.Store.Migrate(ctx)
}

// Ready pings every backing service.
func (a *App) Ready(ctx context.Context) error {
	if err := a.SQL.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx); err != nil {
			return err
		}
	}
	if err := a.ES.Ping(ctx); err != nil {
		return fmt.Errorf("elasticsearch: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("closing redis", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.SQL != nil {
		if err := a.SQL.Close(); err != nil {
			a.logger.Warn("closing database", map[string]interface{}{"error": err.Error()})
		}
	}
}

// retry runs op until it succeeds, doubling the delay between attempts.
func retry(ctx context.Context, attempts int, delay time.Duration, log logger.Logger, name string, op func(context.Context) error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn(name+" failed, retrying", map[string]interface{}{
			"attempt":     i,
			"maxAttempts": attempts,
			"nextRetryIn": delay.String(),
			"error":       err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}
