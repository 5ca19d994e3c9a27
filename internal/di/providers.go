package di

import (
	"context"
	"fmt"
	"time"

	"EOSFit/internal/domain/repository"
	"EOSFit/internal/handler/api"
	internalrepo "EOSFit/internal/repository"
	"EOSFit/internal/services/derive"
	"EOSFit/internal/services/fitting"
	"EOSFit/internal/usecase"
	"EOSFit/pkg/cache"
	pkgch "EOSFit/pkg/clickhouse"
	"EOSFit/pkg/config"
	xhttp "EOSFit/pkg/http"
	pkgkafka "EOSFit/pkg/kafka"
	applogger "EOSFit/pkg/logger"
	"EOSFit/pkg/metrics"
	"EOSFit/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr",
	})
}

// ProvideRegistry creates the Prometheus registry shared by every
// component.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideClickHouseClient creates a ClickHouse client and its schema when
// the clickhouse sink is enabled. It returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.HasSink(config.SinkClickHouse) {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("database", cfg.ClickHouse.Database))

	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}, nil
}

// ProvideKafkaProducer creates a Kafka producer when brokers are
// configured and routes the logger's warn/error digest through it.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Kafka.Topics.Logs != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
		})
	}

	return producer, func() {
		// flush the digest while the producer can still deliver it
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

// ProvideResultSink builds the configured output sinks. One sink is used
// as is; several are fanned out.
func ProvideResultSink(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer, l *applogger.Logger) (repository.ResultSink, func(), error) {
	var sinks []repository.ResultSink
	for _, name := range cfg.Output.Sinks {
		switch name {
		case config.SinkFile:
			s, err := internalrepo.NewFileSink(cfg.Output.Dir, l)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, s)
		case config.SinkClickHouse:
			sinks = append(sinks, internalrepo.NewClickHouseSink(ch.DB(), cfg.ClickHouse.Database, l))
		case config.SinkKafka:
			sinks = append(sinks, internalrepo.NewKafkaSink(producer, cfg.Kafka.Topics.Fits, cfg.Kafka.Topics.Curves))
		default:
			return nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}

	var sink repository.ResultSink = internalrepo.NewMultiSink(sinks...)
	if len(sinks) == 1 {
		sink = sinks[0]
	}
	return sink, func() {
		if err := sink.Close(); err != nil {
			l.Warn("result sink close error", applogger.Error(err))
		}
	}, nil
}

// ProvideFitStore exposes stored fits when ClickHouse is configured.
func ProvideFitStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) repository.FitStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseSink(ch.DB(), cfg.ClickHouse.Database, l)
}

// ProvideCache creates the fit cache: in-process only, or in front of
// Redis when redis is enabled. It returns nil when caching is disabled.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Cache.Enabled {
		return nil, func() {}, nil
	}
	memOpts := []cache.MemoryOption{
		cache.WithMemoryTTL(cfg.Cache.TTL),
		cache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
	}

	var c cache.Service
	if cfg.Cache.Redis.Enabled {
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(cfg.Cache.Redis.Addr),
			cache.WithRedisPassword(cfg.Cache.Redis.Password),
			cache.WithRedisDB(cfg.Cache.Redis.DB),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		c = cache.NewLayeredCache(rc, cfg.Cache.TTL, memOpts...)
		l.Info("fit cache backed by redis", applogger.String("addr", cfg.Cache.Redis.Addr))
	} else {
		c = cache.NewMemoryCache(memOpts...)
	}

	return c, func() {
		if err := c.Close(); err != nil {
			l.Warn("cache close error", applogger.Error(err))
		}
	}, nil
}

// ProvideFitDriver creates the least-squares driver from the fit settings.
func ProvideFitDriver(cfg *config.Config, l *applogger.Logger) *fitting.Driver {
	s := fitting.DefaultSettings()
	s.MaxEvaluations = cfg.Fit.MaxEvaluations
	s.XTolerance = cfg.Fit.XTolerance
	s.FTolerance = cfg.Fit.FTolerance
	return fitting.NewDriver(l, fitting.WithSettings(s))
}

// ProvideDeriveEngine creates the Newton volume solver.
func ProvideDeriveEngine(cfg *config.Config, l *applogger.Logger) *derive.Engine {
	return derive.NewEngine(l,
		derive.WithTolerance(cfg.Derive.Tolerance),
		derive.WithMaxIterations(cfg.Derive.MaxIterations),
	)
}

// ProvideFitRunner creates the fit use case.
func ProvideFitRunner(
	driver *fitting.Driver,
	sink repository.ResultSink,
	c cache.Service,
	m repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.FitRunner {
	return usecase.NewFitRunner(driver, sink, c, cfg.Cache.TTL, m, l)
}

// ProvideDeriver creates the curve derivation use case.
func ProvideDeriver(engine *derive.Engine, sink repository.ResultSink, m repository.Metrics, l *applogger.Logger) *usecase.Deriver {
	return usecase.NewDeriver(engine, sink, m, l)
}

// ProvideTransitionFinder creates the transition use case.
func ProvideTransitionFinder(engine *derive.Engine, m repository.Metrics, l *applogger.Logger) *usecase.TransitionFinder {
	return usecase.NewTransitionFinder(engine, m, l)
}

// ProvideEOSHandler creates the HTTP handler.
func ProvideEOSHandler(
	l *applogger.Logger,
	fits *usecase.FitRunner,
	deriver *usecase.Deriver,
	finder *usecase.TransitionFinder,
	store repository.FitStore,
) *api.EOSEchoHandler {
	return api.NewEOSEchoHandler(l, fits, deriver, finder, store)
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.EOSEchoHandler, reg *prometheus.Registry, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithBodyLimit(cfg.Server.BodyLimit),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithRateLimit(cfg.Server.RateBurst, cfg.Server.RatePerSecond),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideFitJobHandler creates the handler for the jobs topic. The fit
// cache doubles as the job lock store.
func ProvideFitJobHandler(
	cfg *config.Config,
	runner *usecase.FitRunner,
	c cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.FitJobHandler {
	return usecase.NewFitJobHandler(
		cfg.Kafka.Topics.Jobs,
		runner,
		c,
		cfg.Kafka.Consumer.LockTTL,
		cfg.Kafka.Consumer.DataDir,
		m,
		l,
	)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML. It
// returns nil when no brokers are configured.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, m repository.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, topic string, _ kafka.Message, _ []byte, _ error) {
			m.RecordError("consume_" + topic)
		},
	})
	return consumer, nil
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	fits *usecase.FitRunner,
	deriver *usecase.Deriver,
	finder *usecase.TransitionFinder,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	jobs *usecase.FitJobHandler,
) *server.App {
	return server.New(cfg, l, fits, deriver, finder, srv, consumer, jobs)
}
