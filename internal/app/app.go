// -----------------------------------------------------------------------
// Application - dependency wiring and lifecycle for the colligo service
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/handlers"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/blob"
	"github.com/ternarybob/colligo/internal/services/embeddings"
	"github.com/ternarybob/colligo/internal/services/extraction"
	"github.com/ternarybob/colligo/internal/services/llm"
	"github.com/ternarybob/colligo/internal/services/pdf"
	"github.com/ternarybob/colligo/internal/services/pipeline"
	"github.com/ternarybob/colligo/internal/services/progress"
	"github.com/ternarybob/colligo/internal/services/retrieval"
	"github.com/ternarybob/colligo/internal/services/scraper"
	"github.com/ternarybob/colligo/internal/services/snapshot"
	"github.com/ternarybob/colligo/internal/storage"
)

// pipelineDrainTimeout bounds how long Close waits for live job runs to
// abort before giving up and closing storage anyway.
const pipelineDrainTimeout = 30 * time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Progress fan-out
	ProgressBus interfaces.ProgressBus

	// Ingestion services
	Scraper      interfaces.Scraper
	Downloader   interfaces.Downloader
	BlobStore    interfaces.BlobStore
	PDFExtractor interfaces.PDFExtractor
	PDFRenderer  interfaces.PDFRenderer
	Extractor    interfaces.DataExtractor
	Embeddings   *embeddings.Coordinator
	Snapshots    *snapshot.Service

	// LLM services
	LLMService interfaces.LLMService
	Embedder   interfaces.Embedder

	// Orchestration
	PipelineService  interfaces.PipelineService
	RetrievalService interfaces.RetrievalService

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	ProjectHandler *handlers.ProjectHandler
	ChatHandler    *handlers.ChatHandler
	EventsHandler  *handlers.EventsHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	// Initialize storage
	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		cancel()
		app.closeStorage()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		cancel()
		app.closeStorage()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Postgres + Badger)
func (a *App) initDatabase() error {
	manager, err := storage.NewManager(a.ctx, a.Logger, &a.Config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = manager
	a.Logger.Debug().
		Str("badger", a.Config.Storage.Badger.Path).
		Bool("migrate_on_start", a.Config.Storage.Postgres.MigrateOnStart).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
//
// PIPELINE ARCHITECTURE:
// 1. ProgressBus - per-job event fan-out for SSE subscribers
// 2. Scraper/Downloader - exchange page scraping and PDF retrieval
// 3. BlobStore - S3 persistence for downloaded PDFs
// 4. Claude/Gemini - structured extraction and embeddings
// 5. PipelineService - the resumable eight-step executor
// 6. RetrievalService - vector search grounded chat answers
func (a *App) initServices() error {
	var err error

	// The bus resolves late-subscriber replay state through job storage.
	a.ProgressBus = progress.NewBus(a.Logger, func(jobID string) (*models.Job, error) {
		return a.StorageManager.Jobs().GetJob(context.Background(), jobID)
	}, a.Config.Pipeline.SubscriberBuffer)

	// Initialize scraping services
	a.Scraper = scraper.NewService(&a.Config.Scraper, a.Logger)
	a.Downloader = scraper.NewDownloader(a.Config, a.Logger)

	// Initialize blob store
	a.BlobStore, err = blob.NewS3Store(a.ctx, &a.Config.Blob, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Initialize PDF services
	a.PDFExtractor = pdf.NewExtractor(a.Logger)
	a.PDFRenderer = pdf.NewRenderer(a.Logger)

	// Initialize LLM services
	claude, err := llm.NewClaudeService(&a.Config.Claude, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize claude service: %w", err)
	}
	a.LLMService = claude

	embedder, err := llm.NewGeminiEmbedder(a.ctx, &a.Config.Gemini, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize gemini embedder: %w", err)
	}
	a.Embedder = embedder

	// Initialize extraction and embedding coordination
	a.Extractor = extraction.NewService(a.LLMService, a.Logger)

	chunker := embeddings.NewChunker(&a.Config.Pipeline)
	a.Embeddings = embeddings.NewCoordinator(chunker, a.Embedder, a.Logger)

	// Initialize snapshot builder
	a.Snapshots = snapshot.NewService(a.Logger)

	// Initialize pipeline service
	a.PipelineService, err = pipeline.NewService(
		a.Config,
		a.StorageManager,
		a.ProgressBus,
		a.Scraper,
		a.Downloader,
		a.BlobStore,
		a.PDFExtractor,
		a.Extractor,
		a.Embeddings,
		a.Snapshots,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline service: %w", err)
	}

	// Initialize retrieval service
	a.RetrievalService, err = retrieval.NewService(
		a.Config,
		a.StorageManager,
		a.Embedder,
		a.LLMService,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize retrieval service: %w", err)
	}

	a.Logger.Debug().Msg("Services initialized")
	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(a.StorageManager, a.Logger)

	a.ProjectHandler = handlers.NewProjectHandler(
		a.Config,
		a.StorageManager,
		a.PipelineService,
		a.Snapshots,
		a.PDFRenderer,
		a.Logger,
	)

	a.ChatHandler = handlers.NewChatHandler(a.StorageManager, a.RetrievalService, a.Logger)

	a.EventsHandler = handlers.NewEventsHandler(a.Config, a.StorageManager, a.ProgressBus, a.Logger)

	a.Logger.Debug().Msg("Handlers initialized")
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	// Cancel background contexts first so in-flight LLM and scrape calls
	// observe the shutdown promptly.
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	// Abort live job runs before anything they write to goes away.
	// Aborted jobs stay resumable from their last committed step.
	if a.PipelineService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), pipelineDrainTimeout)
		if err := a.PipelineService.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down pipeline service")
		} else {
			a.Logger.Info().Msg("Pipeline service stopped")
		}
		cancel()
	}

	// Drop stream subscribers once the pipeline stops publishing.
	if a.ProgressBus != nil {
		a.ProgressBus.CloseAll()
		a.Logger.Info().Msg("Progress bus closed")
	}

	// Close storage last
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

// closeStorage tears down storage after a partial initialization failure.
func (a *App) closeStorage() {
	if a.StorageManager == nil {
		return
	}
	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close storage after init failure")
	}
}
