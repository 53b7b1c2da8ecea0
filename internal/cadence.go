package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/hbomb79/Cadence/internal/api"
	"github.com/hbomb79/Cadence/internal/batch"
	"github.com/hbomb79/Cadence/internal/database"
	"github.com/hbomb79/Cadence/internal/event"
	"github.com/hbomb79/Cadence/internal/extract"
	"github.com/hbomb79/Cadence/internal/identity"
	"github.com/hbomb79/Cadence/internal/ingest"
	"github.com/hbomb79/Cadence/internal/objectstore"
	"github.com/hbomb79/Cadence/internal/stream"
	"github.com/hbomb79/Cadence/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// cadenceImpl represents the top-level object for the server, and is responsible
	// for initialising the object store, database, services, event handling, et cetera...
	cadenceImpl struct {
		config   CadenceConfig
		eventBus event.EventCoordinator
		db       database.Manager
	}
)

func New(config CadenceConfig) *cadenceImpl {
	logger.SetMinLoggingLevel(logger.ParseLevel(config.LogLevel).Level())
	log.Emit(logger.DEBUG, "Bootstrapping Cadence services\n")

	return &cadenceImpl{
		config:   config,
		eventBus: event.New(),
		db:       database.New(),
	}
}

// Run will start all of Cadence by bringing up all required services and connections, such as:
// - Object store
// - Database connection
// - Service instances
//
// This function will not return until Cadence is stopped.
// To stop Cadence, the provided context must be cancelled. Errors from which Cadence cannot recover
// will also cause Cadence to stop.
func (cadence *cadenceImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := cadence.db.Connect(cadence.config.Database); err != nil {
		return err
	}

	services, err := cadence.initialiseServices(ctx)
	if err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	for label, service := range services {
		cadence.spawnAsyncService(ctx, wg, service, label, crashHandler)
	}
	log.Emit(logger.SUCCESS, "Cadence services spawned!\n")

	wg.Wait()
	return nil
}

func (cadence *cadenceImpl) initialiseServices(ctx context.Context) (map[string]RunnableService, error) {
	objects, err := objectstore.New(ctx, cadence.config.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("failed to construct object store: %w", err)
	}

	verifier, err := identity.NewVerifier(cadence.config.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to construct identity verifier: %w", err)
	}

	store := NewDataOrchestrator(cadence.db)
	ingestService, err := ingest.New(cadence.config.Ingest, extract.MetadataExtractor{}, objects, store, cadence.eventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to construct ingest service: %w", err)
	}

	batchCoordinator := batch.New(objects, store, cadence.eventBus)
	streamService := stream.New(store, stream.NewDefaultPolicy(store), objects)

	// Only the local backend needs Cadence to receive uploads on its behalf
	var uploadSink *objectstore.LocalStore
	if local, ok := objects.(*objectstore.LocalStore); ok {
		uploadSink = local
	}

	// A nil *LocalStore must not be passed as the sink, as the interface would be non-nil
	var gateway *api.RestGateway
	if uploadSink != nil {
		gateway = api.NewRestGateway(&cadence.config.RestConfig, verifier, batchCoordinator, ingestService, streamService, uploadSink, store)
	} else {
		gateway = api.NewRestGateway(&cadence.config.RestConfig, verifier, batchCoordinator, ingestService, streamService, nil, store)
	}

	return map[string]RunnableService{
		"ingest-service":   ingestService,
		"activity-service": newActivityService(gateway, cadence.eventBus),
		"rest-gateway":     gateway,
	}, nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Cadence service waitgroup is updated correctly
func (cadence *cadenceImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
