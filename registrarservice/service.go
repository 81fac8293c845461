// Package registrarservice assembles the push registrar: the acquisition
// campaign, the rotation pipeline and the HTTP API on one base server.
package registrarservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-registrar/internal/api"
	"github.com/tinywideclouds/go-push-registrar/internal/pipeline"
	"github.com/tinywideclouds/go-push-registrar/pkg/acquire"
	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
	"github.com/tinywideclouds/go-push-registrar/registrarservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	acquirer        *acquire.Acquirer
	pipelineService *messagepipeline.StreamingService[pipeline.RotationEvent]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case rotation
// events are not consumed.
func New(
	cfg *config.Config,
	acquirer *acquire.Acquirer,
	store credential.Store,
	consumer messagepipeline.MessageConsumer,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Rotation pipeline (optional)
	var streamingService *messagepipeline.StreamingService[pipeline.RotationEvent]
	if consumer != nil {
		processor := pipeline.NewProcessor(store, "rotation", logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.RotationEventTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	campaignAPI := api.NewCampaignAPI(acquirer, store, cfg.Device.URN, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("GET /api/v1/campaign", campaignAPI.GetCampaign)
	handle("POST /api/v1/campaign", campaignAPI.StartCampaign)
	handle("DELETE /api/v1/campaign", campaignAPI.CancelCampaign)
	handle("GET /api/v1/credential", campaignAPI.GetCredential)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		acquirer:        acquirer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

// Start launches the initial acquisition campaign, then serves until shutdown.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Rotation pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start rotation pipeline: %w", err)
		}
	}

	campaign, err := w.acquirer.Start(ctx)
	switch {
	case errors.Is(err, acquire.ErrCampaignInProgress):
		w.logger.Info("Acquisition campaign already running")
	case err != nil:
		return fmt.Errorf("failed to start acquisition campaign: %w", err)
	default:
		w.logger.Info("Acquisition campaign scheduled", "campaign_id", campaign.ID())
	}

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	if w.acquirer.Cancel() {
		w.logger.Info("Pending acquisition campaign cancelled")
	}

	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Rotation pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
