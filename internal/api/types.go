package api

import (
	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/version"
)

// PredictRequest carries a batch of multivariate series, indexed
// [sample][channel][time].
type PredictRequest struct {
	Inputs   [][][]float32 `json:"inputs"`
	Features bool          `json:"features,omitempty"`
	Store    *bool         `json:"store,omitempty"`
}

type PredictResponse struct {
	ID        string    `json:"id"`
	Object    string    `json:"object"`
	CreatedAt int64     `json:"created_at"`
	Model     string    `json:"model"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	Argmax    []int     `json:"argmax,omitempty"`
}

type ModelInfo struct {
	ID                  string       `json:"id"`
	Object              string       `json:"object"`
	Config              model.Config `json:"config"`
	HeadNF              int          `json:"head_nf"`
	Parameters          int          `json:"parameters"`
	TrainableParameters int          `json:"trainable_parameters"`
	InputShape          []int        `json:"input_shape"`
	OutputShape         []int        `json:"output_shape"`
	Version             version.Info `json:"version"`
}

type DeletedResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
