package httpapi

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/isdmx/kubebox/config"
	"github.com/isdmx/kubebox/sandbox"
	"github.com/isdmx/kubebox/storage"
)

// defaultOutputExtension is used when the client sends no usable output_extension.
const defaultOutputExtension = ".txt"

// ExecuteResponse is the JSON body returned by POST /execute
type ExecuteResponse struct {
	Output            string  `json:"output"`
	Error             string  `json:"error"`
	OutputFilePath    *string `json:"output_file_path"`
	OutputFileContent *string `json:"output_file_content"`
}

// Server is the REST front door of the dispatcher
type Server struct {
	logger   *zap.Logger
	port     int
	executor sandbox.SandboxExecutor
	storage  *storage.SharedStorage
	app      *fiber.App
}

// New creates the fiber application and registers its routes
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.SandboxExecutor, store *storage.SharedStorage) *Server {
	s := &Server{
		logger:   logger.Named("http"),
		port:     cfg.Server.HTTPPort,
		executor: executor,
		storage:  store,
	}

	app := fiber.New(fiber.Config{
		AppName:               "kubebox",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(s.requestLogger)
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: originMatcher(cfg.Server.CORSAllowedOrigins),
		AllowMethods:     "GET,POST,PUT,DELETE",
		AllowHeaders:     "Authorization,Accept,Content-Type",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Post("/execute", s.handleExecute)
	app.Get("/health", handleHealth)
	app.Get("/version", handleVersion)

	s.app = app
	return s
}

// App returns the underlying fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured port and blocks until the server stops
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting REST server", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleExecute(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid multipart form")
	}

	language, hasLanguage := formValue(form, "language")
	code, hasCode := formValue(form, "code")
	switch {
	case !hasLanguage && !hasCode:
		return c.Status(fiber.StatusBadRequest).SendString("Missing required fields: 'language' and 'code'")
	case !hasLanguage:
		return c.Status(fiber.StatusBadRequest).SendString("Missing required field: 'language'")
	case !hasCode:
		return c.Status(fiber.StatusBadRequest).SendString("Missing required field: 'code'")
	}

	outputExtension, _ := formValue(form, "output_extension")
	if outputExtension == "" || outputExtension == "null" {
		outputExtension = defaultOutputExtension
	}

	var inputPath string
	if files := form.File["input_file"]; len(files) > 0 {
		inputPath, err = s.stageInput(files[0])
		if errors.Is(err, storage.ErrEmptyInput) {
			return c.Status(fiber.StatusBadRequest).SendString("Empty file received")
		}
		if err != nil {
			s.logger.Error("failed to stage input file", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).SendString("Failed to write to file")
		}
		defer s.storage.Remove(inputPath)
	}

	outcome, err := s.executor.Execute(c.UserContext(), sandbox.ExecutionRequest{
		Language:          language,
		Code:              code,
		InputArtifactPath: inputPath,
		OutputExtension:   outputExtension,
	})
	if err != nil {
		s.logger.Error("execution failed", zap.String("language", language), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ExecuteResponse{Error: err.Error()})
	}

	s.storage.AttachArtifact(&outcome)
	resp := ExecuteResponse{Output: outcome.Output, Error: outcome.ErrorText}
	if outcome.OutputArtifactPath != "" {
		resp.OutputFilePath = &outcome.OutputArtifactPath
		resp.OutputFileContent = &outcome.OutputArtifactContent
	}

	if outcome.ErrorText != "" {
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *Server) stageInput(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	return s.storage.SaveInput(f, fh.Filename)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Info("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)
	return err
}

func handleHealth(c *fiber.Ctx) error {
	return c.SendString("OK")
}

func handleVersion(c *fiber.Ctx) error {
	return c.SendString(config.Version)
}

// formValue reports whether the field was sent at all, since an empty value is still a value
func formValue(form *multipart.Form, name string) (string, bool) {
	values, ok := form.Value[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func originMatcher(patterns []string) func(string) bool {
	return func(origin string) bool {
		for _, pattern := range patterns {
			if pattern != "" && strings.Contains(origin, pattern) {
				return true
			}
		}
		return false
	}
}
