package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shubhambtra/chatapp-api-sub000/app/api"
	"github.com/shubhambtra/chatapp-api-sub000/app/middleware"
	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/service"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Run serves the API and runs the indexing workers until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	rt, err := service.NewRuntime(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	app := NewApp(rt.Service, s.cfg.Server, s.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Indexer.Run(ctx)
	})
	g.Go(func() error {
		s.logger.Info("server started", "addr", s.cfg.Server.Addr)
		return app.Listen(s.cfg.Server.Addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		defer s.logger.Info("server stopped")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}

func NewApp(svc *service.Service, cfg config.ServerConfig, logger *slog.Logger) *fiber.App {
	var (
		app = fiber.New(fiber.Config{
			ErrorHandler:          api.ErrorHandler(logger),
			BodyLimit:             cfg.BodyLimit,
			DisableStartupMessage: true,
		})
		checkHandler    = api.NewCheckHandler()
		documentHandler = api.NewDocumentHandler(svc)
		fileHandler     = api.NewFileHandler(svc)
		queryHandler    = api.NewQueryHandler(svc)
		chunkHandler    = api.NewChunkHandler(svc)
	)
	app.Use(recover.New())

	check := app.Group("/check")
	check.Get("/healthy", checkHandler.HandleHealthy)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	apiv1 := app.Group("/api/v1", middleware.RequireTenant())

	apiv1.Post("/documents", documentHandler.HandlePostDocument)
	apiv1.Post("/documents/upload", fileHandler.HandleUploadDocument)
	apiv1.Get("/documents", documentHandler.HandleGetDocuments)
	apiv1.Get("/documents/:id", documentHandler.HandleGetDocument)
	apiv1.Patch("/documents/:id", documentHandler.HandlePatchDocument)
	apiv1.Delete("/documents/:id", documentHandler.HandleDeleteDocument)
	apiv1.Post("/documents/:id/reprocess", documentHandler.HandleReprocessDocument)

	apiv1.Post("/search", queryHandler.HandleSearch)
	apiv1.Post("/answer", queryHandler.HandleAnswer)

	apiv1.Delete("/chunks/:id", chunkHandler.HandleDeleteChunk)
	apiv1.Delete("/chunks", chunkHandler.HandleDeleteChunks)

	return app
}
