// -----------------------------------------------------------------------
// Application wiring - builds every pipeline component from configuration
// and owns startup/shutdown ordering.
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/httpclient"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/ternarybob/caseflow/internal/queue"
	"github.com/ternarybob/caseflow/internal/services/cases"
	"github.com/ternarybob/caseflow/internal/services/embeddings"
	"github.com/ternarybob/caseflow/internal/services/extraction"
	"github.com/ternarybob/caseflow/internal/services/llm"
	"github.com/ternarybob/caseflow/internal/services/ocr"
	pdfservice "github.com/ternarybob/caseflow/internal/services/pdf"
	"github.com/ternarybob/caseflow/internal/services/progress"
	"github.com/ternarybob/caseflow/internal/services/scheduler"
	badgerstore "github.com/ternarybob/caseflow/internal/storage/badger"
	"github.com/ternarybob/caseflow/internal/workers"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	QueueManager   interfaces.QueueManager

	SchedulerService interfaces.SchedulerService
	LLMService       interfaces.LLMService
	EmbeddingService interfaces.EmbeddingService
	Tracker          *progress.Tracker
	Poller           *ocr.Poller
	Orchestrator     *cases.Orchestrator
	WorkerPool       interfaces.WorkerPool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the full pipeline. Nothing runs until Start.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	storageManager, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	badgerManager, ok := storageManager.(*badgerstore.Manager)
	if !ok {
		cancel()
		storageManager.Close()
		return nil, fmt.Errorf("unexpected storage manager type %T", storageManager)
	}

	queueManager, err := queue.NewBadgerQueue(
		badgerManager.DB().Badger(),
		queue.Config{
			VisibilityTimeout: common.ParseDuration(config.Queue.VisibilityTimeout, 0),
			MaxAttempts:       config.Queue.MaxAttempts,
			Backoff: interfaces.BackoffPolicy{
				Initial: common.ParseDuration(config.Queue.BackoffInitial, 0),
				Factor:  config.Queue.BackoffFactor,
				Max:     common.ParseDuration(config.Queue.BackoffMax, 0),
			},
		},
		storageManager.FailedJobStorage(),
		logger,
	)
	if err != nil {
		cancel()
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	llmService, err := llm.NewLLMService(&config.LLM, logger)
	if err != nil {
		cancel()
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize LLM service: %w", err)
	}

	schedulerService := scheduler.NewService(logger)
	tracker := progress.NewTracker(storageManager.CaseStorage(), config.Extraction, logger)
	embeddingService := embeddings.NewService(llmService, storageManager.EmbeddingStorage(), logger)
	extractor := extraction.NewExtractor(llmService, logger)

	downloader := httpclient.NewDownloader(config.Download, logger)
	pageSource := pdfservice.NewService(logger)
	localOCR := ocr.NewTesseractOCR(config.OCR, logger)
	cloudOCR := ocr.NewCloudClient(config.OCR, logger)
	poller := ocr.NewPoller(cloudOCR, schedulerService, storageManager.PageStorage(), config.Scheduler, logger)

	chain := extraction.NewChain(logger,
		extraction.NewNativeStrategy(pageSource),
		extraction.NewLocalOCRStrategy(localOCR),
	)

	orchestrator := cases.NewOrchestrator(
		storageManager.CaseStorage(),
		storageManager.DocumentStorage(),
		queueManager,
		tracker,
		logger,
	)

	pool := workers.NewPool(queueManager, config.Workers, config.Queue, logger)
	pool.RegisterProcessor(models.QueueDocumentSplit, workers.NewSplitProcessor(
		downloader, pageSource, storageManager.DocumentStorage(), queueManager, logger,
	).Process)
	pool.RegisterProcessor(models.QueuePageProcess, workers.NewPageProcessor(
		downloader, pageSource, chain, cloudOCR, poller,
		storageManager.PageStorage(), storageManager.DocumentStorage(),
		queueManager, tracker, logger,
	).Process)
	pool.RegisterProcessor(models.QueuePageExtract, workers.NewExtractProcessor(
		embeddingService, extractor,
		storageManager.PageStorage(), storageManager.DocumentStorage(),
		queueManager, tracker, config.Extraction, logger,
	).Process)
	pool.RegisterProcessor(models.QueueDocumentMerge, workers.NewDocumentMergeProcessor(
		storageManager.PageStorage(), storageManager.DocumentStorage(),
		storageManager.EmbeddingStorage(), queueManager, tracker, logger,
	).Process)
	pool.RegisterProcessor(models.QueueCaseMerge, workers.NewCaseMergeProcessor(
		storageManager.CaseStorage(), storageManager.DocumentStorage(), tracker, logger,
	).Process)

	// Pages finished by the asynchronous OCR path rejoin the pipeline here
	poller.OnComplete(workers.NewOCRCompletionHandler(queueManager, storageManager.DocumentStorage(), tracker, logger))
	poller.OnFailed(workers.NewOCRFailureHandler(logger))

	return &App{
		Config:           config,
		Logger:           logger,
		StorageManager:   storageManager,
		QueueManager:     queueManager,
		SchedulerService: schedulerService,
		LLMService:       llmService,
		EmbeddingService: embeddingService,
		Tracker:          tracker,
		Poller:           poller,
		Orchestrator:     orchestrator,
		WorkerPool:       pool,
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// Start brings the pipeline up: workers first so resumed jobs have
// consumers, then the case tick and recovered OCR poll schedules.
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	err := a.SchedulerService.RegisterCron("case-tick", a.Config.Scheduler.CaseTick, func() error {
		return a.Orchestrator.ProcessNextPendingCase(a.ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to register case tick: %w", err)
	}

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Restart recovery: pages that were waiting on cloud OCR when the
	// process died get their poll schedules back.
	if err := a.Poller.Resume(a.ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to resume OCR poll schedules")
	}

	a.Logger.Info().Msg("Pipeline started")
	return nil
}

// Close stops intake, drains workers, and releases resources.
func (a *App) Close() {
	a.cancel()

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop reported an error")
		}
	}
	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
	}
	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("LLM service close reported an error")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close reported an error")
		}
	}

	a.Logger.Info().Msg("Application stopped")
}
