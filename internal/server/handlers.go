package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nnexec/nnexec/pkg/tensor"
)

// TensorValue is the wire form of a tensor.
type TensorValue struct {
	Dims   []int     `json:"dims"`
	Values []float32 `json:"values"`
}

type ExecuteRequest struct {
	Inputs  map[string]TensorValue `json:"inputs" binding:"required"`
	Outputs []string               `json:"outputs,omitempty"`
}

type ExecuteResponse struct {
	Outputs map[string]TensorValue `json:"outputs"`
}

type ModelResponse struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Dynamic bool     `json:"dynamic"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleModel(c *gin.Context) {
	c.JSON(http.StatusOK, ModelResponse{
		Inputs:  s.exec.InputNames(),
		Outputs: s.exec.OutputNames(),
		Dynamic: s.exec.RequiresDynamicExecution(),
	})
}

func (s *Server) handleExecute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	inputs := make(map[string]*tensor.Tensor, len(req.Inputs))
	for name, tv := range req.Inputs {
		t, err := tensor.New(tensor.Float32, tv.Dims, tv.Values)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "input " + name + ": " + err.Error()})
			return
		}
		inputs[name] = t
	}

	path := "static"
	if s.exec.RequiresDynamicExecution() {
		path = "dynamic"
	}

	s.collector.ExecutionStarted()
	start := time.Now()
	outputs, err := s.exec.ExecuteAndRelease(c.Request.Context(), inputs, req.Outputs...)
	s.collector.ExecutionFinished()
	if err != nil {
		s.collector.ObserveExecution(path, "error", time.Since(start))
		c.JSON(httpStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	s.collector.ObserveExecution(path, "ok", time.Since(start))

	resp := ExecuteResponse{Outputs: make(map[string]TensorValue, len(outputs))}
	for name, t := range outputs {
		resp.Outputs[name] = TensorValue{Dims: t.Dims(), Values: t.Values()}
	}
	c.JSON(http.StatusOK, resp)
}

// httpStatus maps the executor's error taxonomy onto HTTP statuses.
func httpStatus(err error) int {
	switch status.Code(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.FailedPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
