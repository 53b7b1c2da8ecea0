package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Cadence/internal/api/batches"
	"github.com/hbomb79/Cadence/internal/api/gen"
	"github.com/hbomb79/Cadence/internal/api/medias"
	"github.com/hbomb79/Cadence/internal/api/tracks"
	"github.com/hbomb79/Cadence/internal/api/uploads"
	"github.com/hbomb79/Cadence/internal/http/websocket"
	"github.com/hbomb79/Cadence/internal/identity"
	"github.com/hbomb79/Cadence/internal/metrics"
	"github.com/hbomb79/Cadence/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const apiRoot = "/api/cadence/v1"

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsbility
	// is to create the routes Cadence exposes, manage ongoing web socket connections and events,
	// and to enforce authentication middleware where applicable.
	RestGateway struct {
		*broadcaster
		config           *RestConfig
		ec               *echo.Echo
		socket           *websocket.SocketHub
		batchController  controller
		mediaController  controller
		trackController  controller
		uploadController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers. The upload sink is optional, and
// only needed when the object store cannot issue pre-signed URLs itself.
func NewRestGateway(
	config *RestConfig,
	verifier *identity.Verifier,
	batchService batches.Service,
	mediaService medias.Service,
	streamService tracks.Service,
	uploadSink uploads.Sink,
	accessStore accessStore,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.HTTPErrorHandler = gen.GetHTTPErrorHandler(ec.DefaultHTTPErrorHandler)

	validate := validator.New()
	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:     newBroadcaster(socket, mediaService, batchService, accessStore),
		config:          config,
		ec:              ec,
		socket:          socket,
		batchController: batches.New(validate, batchService),
		mediaController: medias.New(validate, mediaService),
		trackController: tracks.New(validate, streamService),
	}
	if uploadSink != nil {
		gateway.uploadController = uploads.New(validate, uploadSink)
	}

	ec.Pre(middleware.RemoveTrailingSlash())
	ec.Use(middleware.Recover())
	ec.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Verbosef("%s %s -> %d (%s)\n", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	ec.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	root := ec.Group(apiRoot)
	if gateway.uploadController != nil {
		gateway.uploadController.SetRoutes(root.Group("/uploads"))
	}

	authenticated := root.Group("", verifier.Middleware())
	authenticated.GET("/activity/ws", gateway.upgradeActivitySocket)
	gateway.batchController.SetRoutes(authenticated.Group("/batches"))
	gateway.mediaController.SetRoutes(authenticated.Group("/media"))
	gateway.trackController.SetRoutes(authenticated.Group("/tracks"))

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// ServeHTTP allows the gateway to be exercised without binding to a port
func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

// StartSocketHub runs the activity socket hub until the context is cancelled. It is
// started automatically by Run.
func (gateway *RestGateway) StartSocketHub(ctx context.Context) {
	gateway.socket.Start(ctx)
}

func (gateway *RestGateway) upgradeActivitySocket(ec echo.Context) error {
	principal, err := identity.PrincipalFromContext(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}

	clientIdentity := websocket.ClientIdentity{UserID: principal.UserID, Admin: principal.IsAdmin()}
	if err := gateway.socket.UpgradeToSocket(ec.Response(), ec.Request(), clientIdentity); err != nil {
		if errors.Is(err, websocket.ErrHubOffline) {
			return echo.NewHTTPError(http.StatusServiceUnavailable)
		}

		// The upgrader has already replied to the client
		log.Warnf("Failed to upgrade activity socket for %s: %v\n", principal.UserID, err)
	}

	return nil
}
