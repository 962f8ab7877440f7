package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfoutline/internal/batch"
	"github.com/local/pdfoutline/internal/classify"
	cfgpkg "github.com/local/pdfoutline/internal/config"
	"github.com/local/pdfoutline/internal/dispatcher"
	"github.com/local/pdfoutline/internal/embed"
	"github.com/local/pdfoutline/internal/fetch"
	"github.com/local/pdfoutline/internal/filetype"
	"github.com/local/pdfoutline/internal/imagerender"
	"github.com/local/pdfoutline/internal/limiter"
	logpkg "github.com/local/pdfoutline/internal/logger"
	"github.com/local/pdfoutline/internal/metrics"
	"github.com/local/pdfoutline/internal/mupdf"
	"github.com/local/pdfoutline/internal/orchestrator"
	"github.com/local/pdfoutline/internal/outline"
	"github.com/local/pdfoutline/internal/pdftest"
	"github.com/local/pdfoutline/internal/pipeline"
	"github.com/local/pdfoutline/internal/queue"
	"github.com/local/pdfoutline/internal/statuscheck"
	"github.com/local/pdfoutline/internal/storage"
	"github.com/local/pdfoutline/internal/store"
)

func main() {
	cfg := cfgpkg.Load()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()
	metrics.Init()

	engine, err := outline.NewEngine(cfg.Outline.EngineConfig(), outline.WithLogger(logpkg.Component("outline")))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid outline configuration")
	}
	head, err := classify.LoadHead(cfg.Classifier.HeadPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Classifier.HeadPath).Msg("failed to load heading head")
	}
	log.Info().Str("path", cfg.Classifier.HeadPath).Int("dim", head.Dim()).Msg("heading head loaded")

	extractor := mupdf.NewGoFitzExtractor()
	embedClient := embed.Limited(
		embed.NewHTTPClient(cfg.Embed.URL, cfg.Embed.Model, cfg.Embed.APIKey, cfg.Embed.Timeout),
		limiter.New(cfg.Embed.MaxInflight),
	)
	pipe := pipeline.New(pipeline.Pipeline{
		Detector: filetype.New(),
		Prober:   pdftest.NewProber(pdftest.DefaultThreshold),
		Lines:    extractor,
		Renderer: pipeline.FitzRenderer{Options: imagerender.Options{
			DPI:     cfg.Render.DPI,
			Workers: cfg.Render.Workers,
			Color:   imagerender.ColorRGB,
		}},
		Embedder: pipeline.ClientEmbedder{
			Client:      embedClient,
			BatchSize:   cfg.Embed.BatchSize,
			JPEGQuality: cfg.Render.JPEGQuality,
		},
		Head:   head,
		Engine: engine,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Server.RunMode {
	case "batch":
		runBatch(ctx, cfg, pipe)
	case "server", "":
		runServer(ctx, cfg, pipe, engine, extractor)
	default:
		log.Fatal().Str("run_mode", cfg.Server.RunMode).Msg("unknown RUN_MODE (server|batch)")
	}
}

func runBatch(ctx context.Context, cfg cfgpkg.Config, pipe *pipeline.Pipeline) {
	r := &batch.Runner{Pipeline: pipe, Workers: cfg.Worker.Concurrency}
	sum, err := r.Run(ctx, cfg.Batch.InputDir, cfg.Batch.OutputDir)
	if err != nil {
		log.Error().Err(err).Msg("batch aborted")
		logpkg.Close()
		os.Exit(1)
	}
	log.Info().Int("processed", sum.Processed).Int("failed", sum.Failed).Msg("batch complete")
}

func runServer(ctx context.Context, cfg cfgpkg.Config, pipe *pipeline.Pipeline, engine *outline.Engine, extractor *mupdf.GoFitzExtractor) {
	rq, err := queue.NewRedisQueue(ctx, cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()
	rq.Start()

	statusStore := store.NewRedisStatus(rq.Client(), 7*24*time.Hour)
	results := store.NewResultStore(rq.Client(), cfg.Queue.ResultTTL)

	var s3c *storage.S3Client
	if cfg.Storage.Bucket != "" {
		s3c, err = storage.NewS3Client(ctx, storage.Options{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 client")
		}
	} else {
		log.Warn().Msg("AWS_S3_BUCKET not set; s3:// refs are disabled")
	}

	resolver := &fetch.Resolver{HTTP: &http.Client{Timeout: 2 * time.Minute}}
	sink := &dispatcher.ResultSink{Results: results, ResultDir: cfg.Storage.ResultDir}
	if s3c != nil {
		resolver.Objects = func(bucket string) fetch.ObjectReader { return s3c.WithBucket(bucket) }
		sink.Objects = func(bucket string) dispatcher.ObjectWriter { return s3c.WithBucket(bucket) }
	}

	if cfg.Server.RunDispatcher {
		worker := dispatcher.New(dispatcher.Config{
			Concurrency:     cfg.Worker.Concurrency,
			JobTimeout:      cfg.Worker.JobTimeout,
			MaxAttempts:     cfg.Worker.JobMaxAttempts,
			RetryBaseDelay:  cfg.Worker.RetryBaseDelay,
			RetryMaxRetries: cfg.Worker.RetryMaxRetries,
			IdemTTL:         cfg.Queue.ResultTTL,
		}, dispatcher.Deps{
			Queue:    rq,
			Pipeline: pipe,
			Engine:   engine,
			Resolver: resolver,
			Status:   statusStore,
			Sink:     sink,
			Breaker:  dispatcher.NewCircuitBreaker(rq.Client(), "embedder", cfg.Worker.BreakerBaseBackoff, cfg.Worker.BreakerMaxBackoff),
		})
		worker.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := worker.Stop(sctx); err != nil {
				log.Warn().Err(err).Msg("workers did not stop in time")
			}
		}()
	}

	checkOpts := statuscheck.Options{Redis: rq, EmbedURL: cfg.Embed.URL, MuPDF: extractor.IsAvailable}
	if s3c != nil {
		checkOpts.S3 = s3c
	}

	orch := orchestrator.New(orchestrator.Dependencies{
		Queue:     rq,
		Status:    statusStore,
		Results:   results,
		Checker:   statuscheck.New(checkOpts),
		Bucket:    cfg.Storage.Bucket,
		UploadDir: cfg.Storage.UploadDir,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	go housekeeping(ctx, rq)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	log.Info().Msg("shutdown complete")
}

// housekeeping publishes queue depths and clears stale temp downloads.
func housekeeping(ctx context.Context, rq *queue.RedisQueue) {
	depthTick := time.NewTicker(15 * time.Second)
	cleanTick := time.NewTicker(time.Hour)
	defer depthTick.Stop()
	defer cleanTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-depthTick.C:
			d, err := rq.Depths(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("queue depth check failed")
				continue
			}
			metrics.SetQueueDepth("stream", d.Ready)
			metrics.SetQueueDepth("delayed", d.Delayed)
			metrics.SetQueueDepth("dlq", d.DLQ)
		case <-cleanTick.C:
			if n := fetch.CleanupTemps("", time.Hour); n > 0 {
				log.Info().Int("removed", n).Msg("stale temp files removed")
			}
		}
	}
}
