// Package httpapi exposes the service over JSON-over-HTTP: session
// auth, task and project CRUD, versioned AI artifacts, the gated AI
// operations, and the insight read endpoints.
package httpapi

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/artifact"
	"github.com/daybook-hq/daybook/internal/auth"
	"github.com/daybook-hq/daybook/internal/briefing"
	"github.com/daybook-hq/daybook/internal/chat"
	"github.com/daybook-hq/daybook/internal/ghimport"
	"github.com/daybook-hq/daybook/internal/health"
	"github.com/daybook-hq/daybook/internal/insight"
	"github.com/daybook-hq/daybook/internal/metrics"
	"github.com/daybook-hq/daybook/internal/ratelimit"
	"github.com/daybook-hq/daybook/internal/store"
	"github.com/daybook-hq/daybook/internal/task"
)

// Config holds server-level settings.
type Config struct {
	ListenAddr  string
	CORSOrigins string
}

// Deps carries the services the handlers call into. Chat, Ops, and
// Refined are nil when no AI provider is configured; Importer is nil
// without a GitHub token; Limiter nil disables throttling.
type Deps struct {
	Auth      *auth.Service
	Tasks     *task.Service
	Artifacts *artifact.Service
	Insights  *insight.Engine
	Refined   *insight.Engine
	Chat      *chat.Orchestrator
	Ops       *chat.Operations
	Briefings *briefing.Service
	Importer  *ghimport.Importer
	Limiter   *ratelimit.Limiter
	Checker   *health.Checker
	Metrics   *metrics.Metrics
	Store     *store.Store
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	config Config
	logger zerolog.Logger

	auth      *auth.Service
	tasks     *task.Service
	artifacts *artifact.Service
	insights  *insight.Engine
	refined   *insight.Engine
	chat      *chat.Orchestrator
	ops       *chat.Operations
	briefings *briefing.Service
	importer  *ghimport.Importer
	limiter   *ratelimit.Limiter
	checker   *health.Checker
	metrics   *metrics.Metrics
	store     *store.Store
}

// New creates and wires the API server.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger.With().Str("component", "httpapi").Logger(),
		auth:      deps.Auth,
		tasks:     deps.Tasks,
		artifacts: deps.Artifacts,
		insights:  deps.Insights,
		refined:   deps.Refined,
		chat:      deps.Chat,
		ops:       deps.Ops,
		briefings: deps.Briefings,
		importer:  deps.Importer,
		limiter:   deps.Limiter,
		checker:   deps.Checker,
		metrics:   deps.Metrics,
		store:     deps.Store,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(s.requestIDMiddleware)

	if s.config.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.config.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		}))
	}

	s.app.Use(s.metricsMiddleware)
	s.app.Use(s.requireAuth)
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.liveness)
	s.app.Get("/readyz", s.readiness)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	v1 := s.app.Group("/api/v1")

	v1.Post("/auth/register", s.register)
	v1.Post("/auth/login", s.login)

	v1.Post("/tasks", s.createTask)
	v1.Get("/tasks", s.listTasks)
	v1.Get("/tasks/:id", s.getTask)
	v1.Patch("/tasks/:id", s.updateTask)
	v1.Delete("/tasks/:id", s.deleteTask)
	v1.Post("/tasks/:id/complete", s.completeTask)
	v1.Get("/tasks/:id/subtasks", s.listSubtasks)
	v1.Get("/tasks/:id/insights", s.limit(ratelimit.ClassInsights), s.taskInsights)

	v1.Post("/projects", s.createProject)
	v1.Get("/projects", s.listProjects)
	v1.Get("/projects/:id", s.getProject)
	v1.Patch("/projects/:id", s.updateProject)
	v1.Delete("/projects/:id", s.deleteProject)

	v1.Post("/contexts", s.saveContext)
	v1.Get("/contexts", s.listContexts)

	v1.Post("/ai/chat", s.limit(ratelimit.ClassChat), s.chatHandler)
	v1.Post("/ai/decompose", s.limit(ratelimit.ClassDecompose), s.decompose)
	v1.Post("/ai/enrich", s.limit(ratelimit.ClassEnrich), s.enrich)
	v1.Post("/ai/enrich/:id/apply", s.limit(ratelimit.ClassApplyEnrichment), s.applyEnrichment)
	v1.Post("/ai/research", s.limit(ratelimit.ClassResearch), s.research)
	v1.Post("/ai/draft", s.limit(ratelimit.ClassDoWork), s.draft)
	v1.Post("/ai/similar-tasks", s.limit(ratelimit.ClassSimilarTasks), s.similarTasks)

	v1.Get("/insights/summary", s.limit(ratelimit.ClassInsights), s.insightsSummary)
	v1.Get("/briefing", s.limit(ratelimit.ClassBriefing), s.getBriefing)
	v1.Post("/import/github", s.limit(ratelimit.ClassGitHubImport), s.importGitHub)

	v1.Get("/conversations", s.listConversations)
	v1.Get("/conversations/:id/messages", s.listMessages)
}

// errorHandler is the backstop for errors no handler mapped, fiber's
// own routing errors included.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return respondErrorMessage(c, fe.Code, fe.Message)
	}
	return s.respondError(c, err)
}

func (s *Server) liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) readiness(c *fiber.Ctx) error {
	if s.checker != nil && !s.checker.IsReady(c.UserContext()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("api server starting")
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("api server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// aiUnavailable renders the response for AI routes on a server with no
// configured provider.
func aiUnavailable(c *fiber.Ctx) error {
	return respondErrorMessage(c, fiber.StatusServiceUnavailable,
		"AI features are not configured on this server")
}
