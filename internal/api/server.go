package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/kindle/internal/inference"
	"github.com/samcharles93/kindle/internal/logger"
)

type Server struct {
	store    *GenerationStore
	service  *GenerationService
	provider EngineProvider
	log      logger.Logger
	metrics  http.Handler
}

func NewServer(store *GenerationStore, provider EngineProvider, log logger.Logger) *Server {
	if store == nil {
		store = NewGenerationStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		store:    store,
		service:  NewGenerationService(provider),
		provider: provider,
		log:      log,
		metrics:  promhttp.Handler(),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.DELETE("/v1/generations/:id", s.handleDeleteGeneration)

	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/models/:id", s.handleGetModel)

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.provider == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "no model provider configured", "", "")
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	var writer *SSEStreamWriter
	var streamWriter StreamWriter
	if req.Stream != nil && *req.Stream {
		w, err := NewSSEStreamWriter(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		writer = w
		streamWriter = w
	}

	gen, err := s.service.CreateGeneration(c.Request().Context(), &req, streamWriter)
	if gen != nil && (req.Store == nil || *req.Store) {
		s.store.Save(*gen)
	}
	if err != nil {
		status, errType := classify(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("generation failed", "model", req.Model, "error", err)
		} else {
			s.log.Debug("generation rejected", "model", req.Model, "error", err)
		}
		if writer != nil && writer.Started() {
			return nil
		}
		return writeError(c, status, errType, err.Error(), paramOf(err), "")
	}

	s.log.Info("generation completed",
		"id", gen.ID,
		"model", gen.Model,
		"prompt_tokens", gen.Usage.PromptTokens,
		"completion_tokens", gen.Usage.CompletionTokens,
		"finish_reason", gen.FinishReason,
	)
	if writer != nil {
		return nil
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	gen, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleDeleteGeneration(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, DeleteGenerationResp{
		ID:      id,
		Object:  "generation",
		Deleted: true,
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	if s.provider == nil {
		return c.JSON(http.StatusOK, ModelList{Object: "list", Data: []ModelInfo{}})
	}
	ids, err := s.provider.ListModels()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	data := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		data = append(data, ModelInfo{ID: id, Object: "model", OwnedBy: "local"})
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

// handleGetModel loads the model if needed and reports its hyperparameters.
func (s *Server) handleGetModel(c *echo.Context) error {
	if s.provider == nil {
		return writeNotFound(c, "model not found")
	}
	var info ModelInfo
	err := s.provider.WithEngine(c.Request().Context(), c.Param("id"), func(id string, engine *inference.Engine) error {
		hp := engine.Model().Hyperparameters()
		info = ModelInfo{ID: id, Object: "model", OwnedBy: "local", Hyperparameters: &hp}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrModelNotFound) {
			return writeNotFound(c, err.Error())
		}
		status, errType := classify(err)
		return writeError(c, status, errType, err.Error(), "", "")
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}
