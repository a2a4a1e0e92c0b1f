package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/modelutil"
	"github.com/samcharles93/convtran/internal/tensor"
	"github.com/samcharles93/convtran/internal/version"
)

// MaxBatch caps the number of series accepted in one predict call.
const MaxBatch = 1024

type Server struct {
	name  string
	model *model.Model
	store *PredictionStore
	clock func() time.Time

	mu sync.Mutex // serialises forward passes
}

// NewServer serves m under name. The model is switched to eval mode.
func NewServer(name string, m *model.Model, store *PredictionStore) *Server {
	if store == nil {
		store = NewPredictionStore(DefaultStoreSize)
	}
	m.SetTraining(false)
	return &Server{
		name:  name,
		model: m,
		store: store,
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/predict", s.handlePredict)
	e.GET("/v1/predictions/:id", s.handleGetPrediction)
	e.DELETE("/v1/predictions/:id", s.handleDeletePrediction)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	cfg := s.model.Config
	return c.JSON(http.StatusOK, ModelInfo{
		ID:                  s.name,
		Object:              "model",
		Config:              cfg,
		HeadNF:              s.model.HeadNF,
		Parameters:          modelutil.CountParameters(s.model, false),
		TrainableParameters: modelutil.CountParameters(s.model, true),
		InputShape:          []int{cfg.CIn, cfg.SeqLen},
		OutputShape:         cfg.OutputShape(),
		Version:             version.Resolve(),
	})
}

func (s *Server) handlePredict(c *echo.Context) error {
	req, err := decodeJSON[PredictRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	x, err := s.batch(req.Inputs)
	if err != nil {
		var ire invalidRequestError
		if errors.As(err, &ire) {
			return writeError(c, http.StatusBadRequest, "invalid_request_error", ire.msg, ire.param, "")
		}
		return writeBadRequest(c, err.Error())
	}

	s.mu.Lock()
	var out *tensor.Tensor
	if req.Features {
		out, err = s.model.Features(x)
	} else {
		out, err = s.model.Predict(x)
	}
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, model.ErrShapeMismatch) {
			return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "inputs", "shape_mismatch")
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}

	resp := PredictResponse{
		ID:        newPredictionID(),
		Object:    "prediction",
		CreatedAt: s.clock().Unix(),
		Model:     s.name,
		Shape:     out.Shape(),
		Data:      out.Data(),
	}
	if !req.Features && out.NDim() == 2 && out.Dim(1) > 1 {
		resp.Argmax = argmaxRows(out)
	}
	if req.Store == nil || *req.Store {
		s.store.Put(resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetPrediction(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, fmt.Sprintf("prediction %q not found", id))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeletePrediction(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, fmt.Sprintf("prediction %q not found", id))
	}
	return c.JSON(http.StatusOK, DeletedResponse{ID: id, Object: "prediction.deleted", Deleted: true})
}

// batch packs inputs into a (B, CIn, SeqLen) tensor.
func (s *Server) batch(inputs [][][]float32) (*tensor.Tensor, error) {
	cfg := s.model.Config
	if len(inputs) == 0 {
		return nil, newInvalidRequest("inputs is required", "inputs")
	}
	if len(inputs) > MaxBatch {
		return nil, newInvalidRequest(fmt.Sprintf("at most %d series per request", MaxBatch), "inputs")
	}
	data := make([]float32, 0, len(inputs)*cfg.CIn*cfg.SeqLen)
	for i, sample := range inputs {
		if len(sample) != cfg.CIn {
			return nil, newInvalidRequest(
				fmt.Sprintf("inputs[%d] has %d channels, model expects %d", i, len(sample), cfg.CIn),
				fmt.Sprintf("inputs[%d]", i))
		}
		for ch, series := range sample {
			if len(series) != cfg.SeqLen {
				return nil, newInvalidRequest(
					fmt.Sprintf("inputs[%d][%d] has %d steps, model expects %d", i, ch, len(series), cfg.SeqLen),
					fmt.Sprintf("inputs[%d][%d]", i, ch))
			}
			data = append(data, series...)
		}
	}
	return tensor.FromData(data, len(inputs), cfg.CIn, cfg.SeqLen), nil
}

func argmaxRows(t *tensor.Tensor) []int {
	rows, cols := t.Dim(0), t.Dim(1)
	data := t.Data()
	out := make([]int, rows)
	for r := range rows {
		row := data[r*cols : (r+1)*cols]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[r] = best
	}
	return out
}
