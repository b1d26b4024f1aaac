// Package main provides the Tramite API server implementation.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dailos/tramite/pkg/cascade"
	"github.com/dailos/tramite/pkg/engine"
	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/gate"
	"github.com/dailos/tramite/pkg/notify"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/dailos/tramite/pkg/services"
	"github.com/dailos/tramite/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the optional wiring knobs of the API process.
type Config struct {
	OrgChartPath           string
	CancelSiblingsOnReject bool
	Tracer                 trace.Tracer
}

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.Bus
	executor    *engine.Executor
	gate        *gate.Gate
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.Bus,
	locker engine.RunLocker,
	config Config,
) (*API, error) {
	directory, err := loadDirectory(config.OrgChartPath)
	if err != nil {
		return nil, err
	}

	approvalGate := gate.NewGate(store, directory, logger)
	notifier := notify.NewNotifier(store, logger)

	opts := []engine.Option{
		engine.WithLocker(locker),
		engine.WithNotifier(notifier),
	}
	if config.CancelSiblingsOnReject {
		opts = append(opts, engine.WithCancelSiblingsOnReject())
	}

	if config.Tracer != nil {
		opts = append(opts, engine.WithTracer(config.Tracer))
	}

	executor := engine.NewExecutor(store, approvalGate, eventBus, logger, opts...)

	notifier.RegisterHandlers(eventBus)
	cascade.NewCascade(store, eventBus, executor, logger).RegisterHandlers(eventBus)

	return &API{
		logger:      logger,
		persistence: store,
		eventBus:    eventBus,
		executor:    executor,
		gate:        approvalGate,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (a *API) App() *fiber.App {
	graphService := services.NewGraphService(a.persistence, a.logger)
	requestService := services.NewRequestService(a.persistence, a.eventBus, a.executor, a.logger)

	handlers := web.NewAPIHandlers(graphService, requestService, a.executor, a.gate, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Tramite API")
	})

	g := app.Group("/graphs")
	g.Post("/", handlers.CreateGraph)
	g.Get("/:id", handlers.GetGraph)
	g.Post("/:id/tasks", handlers.InsertTask)
	g.Delete("/:id/nodes/:nodeId", handlers.RemoveGraphNode)

	r := app.Group("/runs")
	r.Post("/", handlers.StartRun)
	r.Get("/:id", handlers.GetRun)
	r.Get("/:id/log", handlers.GetRunLog)
	r.Post("/:id/cancel", handlers.CancelRun)
	r.Post("/:id/nodes/:nodeId/complete", handlers.CompleteNode)
	r.Post("/:id/nodes/:nodeId/arrive", handlers.BranchArrived)

	v := app.Group("/validations")
	v.Get("/", handlers.GetPendingValidations)
	v.Post("/:id/decide", handlers.DecideValidation)

	q := app.Group("/requests")
	q.Post("/", handlers.CreateRequest)
	q.Get("/:id", handlers.GetRequest)
	q.Post("/:id/approve", handlers.ApproveRequest)
	q.Post("/:id/tasks", handlers.CreateTask)

	app.Patch("/tasks/:id/status", handlers.UpdateTaskStatus)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}

func loadDirectory(path string) (gate.Directory, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read org chart: %w", err)
	}

	var directory gate.StaticDirectory

	err = json.Unmarshal(raw, &directory)
	if err != nil {
		return nil, fmt.Errorf("failed to decode org chart: %w", err)
	}

	return directory, nil
}
