// Command reclearn 运行学习推荐服务：HTTP API、刷新调度器与可选的 Kafka 反馈消费者。
//
//	reclearn -config /etc/reclearn/config.yaml
//
// 所有配置项都可以通过 RECLEARN_ 前缀的环境变量覆盖，例如 RECLEARN_STORE__DRIVER=redis。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	_ "time/tzdata"

	"github.com/rushteam/reclearn/api"
	"github.com/rushteam/reclearn/config"
	_ "github.com/rushteam/reclearn/config/builders"
	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/engine"
	"github.com/rushteam/reclearn/feedback"
	"github.com/rushteam/reclearn/pipeline"
	"github.com/rushteam/reclearn/pkg/logging"
	"github.com/rushteam/reclearn/recall"
	"github.com/rushteam/reclearn/refresh"
	"github.com/rushteam/reclearn/service"
	"github.com/rushteam/reclearn/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (default $RECLEARN_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "reclearn: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(settings.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, closeStore, err := openStore(ctx, settings.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	embedder, err := service.NewEmbedder(settings.Embedding, logging.Component(logger, "embedding"))
	if err != nil {
		return err
	}

	queue := refresh.NewStoreQueue(docs, settings.Refresh.QueueBuffer)
	queue.DedupeWindow = settings.Refresh.DedupeWindow
	queue.Logger = logging.Component(logger, "refresh")

	deps := engine.Deps{
		Store:        docs,
		Interactions: recall.NewStoreInteractionAdapter(docs),
		Content:      recall.NewStoreContentIndex(docs),
		Embedder:     embedder,
		Logger:       logging.Component(logger, "engine"),
	}
	eng := engine.New(deps, settings.Recommend, queue)

	if settings.PipelineFile != "" {
		warm, err := config.LoadPipeline(settings.PipelineFile, &config.Resources{
			Store:        deps.Store,
			Interactions: deps.Interactions,
			Content:      deps.Content,
			Embedder:     deps.Embedder,
			Logger:       deps.Logger,
		})
		if err != nil {
			return err
		}
		warm.Hooks = append(warm.Hooks, pipeline.LogHook{Logger: deps.Logger})
		eng.Recommender.Warm = warm
		logger.Info().Str("file", settings.PipelineFile).Str("pipeline", warm.Name).Msg("personalized pipeline loaded")
	}

	loc, err := settings.Feedback.Location()
	if err != nil {
		return err
	}
	eng.Feedback.Threshold = settings.Feedback.Threshold
	if settings.Feedback.Window > 0 {
		eng.Feedback.Window = settings.Feedback.Window
	}
	eng.Feedback.Location = loc
	eng.Feedback.Logger = logging.Component(logger, "feedback")

	scheduler := refresh.NewScheduler(queue, &refresh.StoreUserLister{
		Store: docs,
		Limit: settings.Refresh.MaxBatchUsers,
	}, eng.Recommender)
	if settings.Refresh.Interval > 0 {
		scheduler.Interval = settings.Refresh.Interval
	}
	scheduler.Workers = settings.Refresh.Workers
	if settings.Refresh.UserTimeout > 0 {
		scheduler.UserTimeout = settings.Refresh.UserTimeout
	}
	scheduler.Retry = settings.Refresh.RetryPolicy()
	scheduler.RunOnStart = settings.Refresh.RunOnStart
	scheduler.Logger = logging.Component(logger, "refresh")

	sup := suture.New("reclearn", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Warn().Fields(ev.Map()).Msg(ev.String())
		},
	})
	sup.Add(scheduler)
	sup.Add(&api.HTTPServer{
		Addr:            settings.HTTP.Addr,
		Handler:         api.NewServer(eng, logging.Component(logger, "http")).Handler(),
		ReadTimeout:     settings.HTTP.ReadTimeout,
		WriteTimeout:    settings.HTTP.WriteTimeout,
		ShutdownTimeout: settings.HTTP.ShutdownTimeout,
		Logger:          logging.Component(logger, "http"),
	})
	if settings.Kafka.Enabled {
		sup.Add(feedback.NewKafkaConsumer(settings.Kafka, eng.Feedback, logging.Component(logger, "kafka")))
	}

	logger.Info().
		Str("store", settings.Store.Driver).
		Str("embedding", settings.Embedding.Provider).
		Bool("kafka", settings.Kafka.Enabled).
		Msg("reclearn starting")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("reclearn stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreSettings, logger zerolog.Logger) (core.DocumentStore, func(), error) {
	switch cfg.Driver {
	case config.DriverRedis:
		client, err := store.DialRedis(ctx, cfg.Addr, cfg.Password, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		rs := store.NewRedisStore(client, store.RedisOptions{Prefix: cfg.Prefix})
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.Warn().Err(err).Msg("close redis store")
			}
		}, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
