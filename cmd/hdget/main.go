package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"hdget/internal/config"
	"hdget/internal/domain"
	"hdget/internal/downloader"
	apphttp "hdget/internal/http"
	"hdget/internal/muxer"
	"hdget/internal/ratelimit"
	"hdget/internal/repository/sqlite"
	"hdget/internal/resolver"
	"hdget/internal/service"
	"hdget/internal/storage"
)

var validQualities = map[string]bool{
	"1080p": true,
	"1440p": true,
	"2160p": true,
	"best":  true,
}

func main() {
	os.Exit(run())
}

func run() int {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	flags := pflag.NewFlagSet("hdget", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hdget [flags] URL[,URL...]\n\n")
		flags.PrintDefaults()
	}

	var (
		threads       = flags.Int("threads", 4, "download segments per file")
		quality       = flags.StringP("quality", "q", "best", "video quality: 1080p, 1440p, 2160p or best")
		outputDir     = flags.StringP("output", "o", "downloads", "output directory")
		audioOnly     = flags.Bool("audio-only", false, "download audio only")
		listFormats   = flags.Bool("list-formats", false, "list available formats and exit")
		concurrent    = flags.Bool("concurrent", false, "download multiple URLs in parallel")
		limitRate     = flags.String("limit-rate", "", "cap total throughput, e.g. 500K, 4M (K/M/G suffix required)")
		maxConcurrent = flags.Int("max-concurrent", 0, "parallel job bound (default min(#URLs, 4))")
		statusAddr    = flags.String("status-addr", "", "serve a read-only status API on this address")
		configFile    = flags.String("config", "", "config file path")
	)

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Errorf("load config: %v", err)
		return 1
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	// flag > env/config file > default
	if !flags.Changed("threads") {
		*threads = cfg.Download.Threads
	}
	if !flags.Changed("quality") {
		*quality = cfg.Download.Quality
	}
	if !flags.Changed("output") {
		*outputDir = cfg.Download.Dir
	}
	if !flags.Changed("limit-rate") {
		*limitRate = cfg.Download.LimitRate
	}
	if !flags.Changed("status-addr") {
		*statusAddr = cfg.Server.StatusAddr
	}

	if !validQualities[*quality] {
		logger.Errorf("invalid quality %q (want 1080p, 1440p, 2160p or best)", *quality)
		return 1
	}

	identifiers := splitIdentifiers(flags.Args())
	if len(identifiers) == 0 {
		flags.Usage()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := resolver.NewDirect(http.DefaultClient)

	if *listFormats {
		return runListFormats(ctx, res, identifiers, logger)
	}

	var limiter *ratelimit.Limiter
	if *limitRate != "" {
		rate, err := ratelimit.ParseRate(*limitRate)
		if err != nil {
			logger.Errorf("invalid --limit-rate: %v", err)
			return 1
		}
		limiter = ratelimit.New(rate)
		logger.Infof("throughput capped at %s/s", *limitRate)
	}

	jobSvc := service.NewNoop()
	if cfg.History.Path != "" {
		db, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			logger.Errorf("open history database: %v", err)
			return 1
		}
		defer db.Close()

		jobRepo := sqlite.NewJobRepository(db)
		if err := jobRepo.Init(ctx); err != nil {
			logger.Errorf("init history database: %v", err)
			return 1
		}
		jobSvc = service.NewJobService(jobRepo)
		logger.Infof("recording job history to %s", cfg.History.Path)
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("setup storage: %v", err)
		return 1
	}

	// Sequential by default; --concurrent uses min(#URLs, 4) slots unless
	// --max-concurrent pins the bound.
	slots := 1
	if *concurrent {
		slots = min(len(identifiers), cfg.Download.MaxConcurrent)
	}
	if *maxConcurrent > 0 {
		slots = *maxConcurrent
	}

	manager := downloader.NewManager(downloader.Config{
		OutputDir:      *outputDir,
		Threads:        *threads,
		MaxConcurrent:  slots,
		StatusInterval: cfg.StatusIntervalDuration(),
		SegmentRetries: cfg.Download.SegmentRetries,
		RetryBackoff:   cfg.RetryBackoffDuration(),
		ChunkSize:      cfg.Download.ChunkSizeKB * 1024,
		UploadOptions: storage.UploadOptions{
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
		},
		Logger: logger,
	}, res, muxer.NewFFmpeg(cfg.Mux.FFmpegPath, logger), storageSvc, jobSvc, limiter)

	if err := manager.Start(ctx); err != nil {
		logger.Errorf("start manager: %v", err)
		return 1
	}

	srv := startStatusServer(*statusAddr, manager, jobSvc, logger)

	for _, id := range identifiers {
		if _, err := manager.Enqueue(downloader.Request{
			Identifier: id,
			Quality:    *quality,
			AudioOnly:  *audioOnly,
		}); err != nil {
			logger.Errorf("enqueue %s: %v", id, err)
		}
	}

	go func() {
		<-ctx.Done()
		logger.Info("interrupted, canceling active downloads...")
		manager.Shutdown()
	}()

	summary := manager.Wait()
	printSummary(summary, logger)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	return summary.ExitCode()
}

// splitIdentifiers flattens positional args, each of which may be a
// comma-separated list of URLs.
func splitIdentifiers(args []string) []string {
	var out []string
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func runListFormats(ctx context.Context, res resolver.Resolver, identifiers []string, logger *logrus.Logger) int {
	code := 0
	for _, id := range identifiers {
		formats, err := res.ListFormats(ctx, id)
		if err != nil {
			logger.Errorf("list formats for %s: %v", id, err)
			code = 1
			continue
		}
		fmt.Printf("%s:\n", id)
		for _, f := range formats {
			size := "?"
			if f.Size >= 0 {
				size = fmt.Sprintf("%d", f.Size)
			}
			fmt.Printf("  %-10s %-8s %-6s %-6s %s\n", f.ID, f.Quality, f.Container, f.Kind, size)
		}
	}
	return code
}

func startStatusServer(addr string, manager downloader.Manager, jobSvc service.JobService, logger *logrus.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(manager, jobSvc).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		logger.Infof("status API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warnf("status API: %v", err)
		}
	}()
	return srv
}

func printSummary(summary downloader.Summary, logger *logrus.Logger) {
	for _, job := range summary.Jobs {
		switch job.Status {
		case domain.JobStatusDone:
			logger.Infof("done     %s -> %s", job.Identifier, job.OutputPath)
		case domain.JobStatusCanceled:
			logger.Warnf("canceled %s", job.Identifier)
		default:
			logger.Errorf("failed   %s: %s", job.Identifier, job.Error)
		}
	}
	logger.Infof("%d done, %d failed, %d canceled", summary.Done, summary.Failed, summary.Canceled)
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("uploading finished files to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
