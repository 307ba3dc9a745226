// Package api provides the sensor's HTTP command layer.
// Uses Fiber v2; every route translates into one controller call.
package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/sureshkrishnan-v/idsagent/internal/analysis"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/module"
)

// Controller is the subset of the analysis controller the API drives.
type Controller interface {
	Configure(ctx context.Context, path string) (string, error)
	ConfigureRuleset(ctx context.Context, path string) (string, error)
	SetContainerID(id int) error
	JoinEnsemble(id int) error
	LeaveEnsemble() (*int, error)
	StartStatic(ctx context.Context, req analysis.StaticRequest) error
	StartNetwork(ctx context.Context, req analysis.NetworkRequest) error
	Stop(ctx context.Context) error
	Status() analysis.Status
}

// Server is the HTTP command server. It implements module.Module.
type Server struct {
	app       *fiber.App
	ctrl      Controller
	logger    *zap.Logger
	addr      string
	uploadDir string

	mu      sync.Mutex
	dataset string // input of the most recently started static scan
}

var _ module.Module = (*Server)(nil)

// NewServer creates a Fiber command server bound to ctrl.
func NewServer(ctrl Controller) *Server {
	return &Server{ctrl: ctrl, logger: zap.NewNop()}
}

func (s *Server) Name() string { return constants.ModuleAPI }

func (s *Server) Init(_ context.Context, deps module.Dependencies) error {
	s.logger = deps.Logger.Named(constants.ModuleAPI)
	s.addr = deps.Config.Agent.ListenAddr
	s.uploadDir = deps.Config.Agent.UploadDir

	app := fiber.New(fiber.Config{
		AppName:               "idsagent",
		DisableStartupMessage: true,
		BodyLimit:             constants.HTTPBodyLimit,
		ReadTimeout:           constants.HTTPReadTimeout,
		WriteTimeout:          constants.HTTPWriteTimeout,
		IdleTimeout:           constants.HTTPIdleTimeout,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${status} ${method} ${path} ${latency}\n",
		Output: &zapio.Writer{Log: s.logger, Level: zap.DebugLevel},
	}))

	app.Get("/healthcheck", s.handleHealthcheck)
	app.Post("/configuration", s.handleConfiguration)
	app.Post("/configure/ensemble/add/:ensemble_id", s.handleEnsembleAdd)
	app.Post("/configure/ensemble/remove", s.handleEnsembleRemove)
	app.Post("/ruleset", s.handleRuleset)

	analysisGroup := app.Group("/analysis")
	analysisGroup.Post("/static", s.handleStatic)
	analysisGroup.Post("/network", s.handleNetwork)
	analysisGroup.Post("/stop", s.handleStop)
	analysisGroup.Get("/status", s.handleStatus)

	s.app = app
	return nil
}

// Start listens until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Command API listening", zap.String("addr", s.addr))
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	return s.app.ShutdownWithContext(ctx)
}

// ─── Handlers ────────────────────────────────────────────────────

func (s *Server) handleHealthcheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "healthy"})
}

// handleConfiguration sets the container ID and installs the engine config.
func (s *Server) handleConfiguration(c *fiber.Ctx) error {
	id, err := formInt(c, "container_id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	path, err := s.saveUpload(c, "file", constants.ConfigUploadFileName)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.ctrl.SetContainerID(id); err != nil {
		return s.fail(c, err)
	}

	msg, err := s.ctrl.Configure(c.UserContext(), path)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": msg})
}

func (s *Server) handleEnsembleAdd(c *fiber.Ctx) error {
	id, err := c.ParamsInt("ensemble_id")
	if err != nil {
		return badRequest(c, "ensemble_id must be an integer")
	}
	if err := s.ctrl.JoinEnsemble(id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Added IDS to ensemble %d", id)})
}

func (s *Server) handleEnsembleRemove(c *fiber.Ctx) error {
	former, err := s.ctrl.LeaveEnsemble()
	if err != nil {
		return s.fail(c, err)
	}
	if former == nil {
		return c.JSON(fiber.Map{"message": "IDS was not part of an ensemble"})
	}
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Removed IDS from ensemble %d", *former)})
}

func (s *Server) handleRuleset(c *fiber.Ctx) error {
	path, err := s.saveUpload(c, "file", constants.ConfigUploadFileName)
	if err != nil {
		return badRequest(c, err.Error())
	}
	msg, err := s.ctrl.ConfigureRuleset(c.UserContext(), path)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": msg})
}

// handleStatic stores the uploaded dataset and starts a static scan on it.
// The scan runs in the background; the response only confirms the start.
func (s *Server) handleStatic(c *fiber.Ctx) error {
	datasetID, err := formInt(c, "dataset_id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	containerID, err := formInt(c, "container_id")
	if err != nil {
		return badRequest(c, err.Error())
	}
	var ensembleID *int
	if c.FormValue("ensemble_id") != "" {
		id, err := formInt(c, "ensemble_id")
		if err != nil {
			return badRequest(c, err.Error())
		}
		ensembleID = &id
	}

	// Cheap early reject; StartStatic below is the authoritative check.
	if s.ctrl.Status().Mode != analysis.ModeIdle.String() {
		return s.fail(c, analysis.ErrAnalysisRunning)
	}
	path, err := s.saveDataset(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = s.ctrl.StartStatic(c.UserContext(), analysis.StaticRequest{
		DatasetID:  datasetID,
		FilePath:   path,
		EnsembleID: ensembleID,
	})
	if err != nil {
		s.removeUpload(path)
		return s.fail(c, err)
	}
	s.replaceDataset(path)
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Started analysis for container %d", containerID)})
}

type networkRequest struct {
	EnsembleID *int `json:"ensemble_id"`
}

func (s *Server) handleNetwork(c *fiber.Ctx) error {
	var req networkRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
	}

	if err := s.ctrl.StartNetwork(c.UserContext(), analysis.NetworkRequest{EnsembleID: req.EnsembleID}); err != nil {
		return s.fail(c, err)
	}
	st := s.ctrl.Status()
	return c.JSON(fiber.Map{"message": fmt.Sprintf("started network analysis for container with %d", st.ContainerID)})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.ctrl.Stop(c.UserContext()); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "successfully stopped analysis"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

// ─── Helpers ─────────────────────────────────────────────────────

// saveUpload writes the multipart file field to the upload directory.
func (s *Server) saveUpload(c *fiber.Ctx, field, name string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("no %s provided", field)
	}
	path := filepath.Join(s.uploadDir, name)
	if err := c.SaveFile(fh, path); err != nil {
		return "", fmt.Errorf("saving %s: %w", field, err)
	}
	return path, nil
}

// saveDataset writes the dataset field to a fresh file in the upload
// directory. Concurrent uploads never share a path.
func (s *Server) saveDataset(c *fiber.Ctx) (string, error) {
	fh, err := c.FormFile("dataset")
	if err != nil {
		return "", errors.New("no dataset provided")
	}
	f, err := os.CreateTemp(s.uploadDir, constants.DatasetFilePattern)
	if err != nil {
		return "", fmt.Errorf("saving dataset: %w", err)
	}
	path := f.Name()
	f.Close()
	if err := c.SaveFile(fh, path); err != nil {
		s.removeUpload(path)
		return "", fmt.Errorf("saving dataset: %w", err)
	}
	return path, nil
}

// replaceDataset records path as the current scan input and removes the
// previous one, whose scan has finished since a new one could start.
func (s *Server) replaceDataset(path string) {
	s.mu.Lock()
	prev := s.dataset
	s.dataset = path
	s.mu.Unlock()
	if prev != "" && prev != path {
		s.removeUpload(prev)
	}
}

func (s *Server) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove upload", zap.String("path", path), zap.Error(err))
	}
}

// fail maps controller errors onto HTTP statuses.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	if errors.Is(err, analysis.ErrAnalysisRunning) {
		status = fiber.StatusConflict
	}
	s.logger.Warn("Command failed",
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Error(err))
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func formInt(c *fiber.Ctx, field string) (int, error) {
	v := c.FormValue(field)
	if v == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", field)
	}
	return n, nil
}
