// Package server exposes an opened shard set over a read-only HTTP API.
package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/samcharles93/shardview/internal/logger"
	"github.com/samcharles93/shardview/internal/safetensors"
)

const (
	// HeaderRequestID carries the per-request id on every response.
	HeaderRequestID = "X-Request-Id"

	defaultValuesLimit = 64
	maxValuesLimit     = 1 << 16
)

// Config holds the server settings.
type Config struct {
	Address     string
	ReadTimeout time.Duration
	// ValuesRate is the sustained /values requests per second.
	ValuesRate float64
}

// Server serves tensor listings and values from one Set. The Set must stay
// open for the lifetime of the server.
type Server struct {
	set     *safetensors.Set
	log     logger.Logger
	cfg     Config
	limiter *rate.Limiter
}

// New returns a Server over set. A non-positive ValuesRate allows one
// request per second.
func New(set *safetensors.Set, log logger.Logger, cfg Config) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.ValuesRate <= 0 {
		cfg.ValuesRate = 1
	}
	burst := max(1, int(cfg.ValuesRate))
	return &Server{
		set:     set,
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.ValuesRate), burst),
	}
}

// Register mounts the API routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID)
	e.GET("/v1/shards", s.handleShards)
	e.GET("/v1/tensors", s.handleTensors)
	e.GET("/v1/tensors/:name", s.handleTensor)
	e.GET("/v1/tensors/:name/values", s.handleValues)
}

// Handler builds an echo instance with the standard middleware and routes.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	s.Register(e)
	return e
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("starting server", "address", s.cfg.Address, "shards", len(s.set.Shards()), "values_rate", s.cfg.ValuesRate)
	sc := echo.StartConfig{
		Address: s.cfg.Address,
		BeforeServeFunc: func(srv *http.Server) error {
			if s.cfg.ReadTimeout > 0 {
				srv.ReadHeaderTimeout = s.cfg.ReadTimeout
			}
			return nil
		},
	}
	return sc.Start(ctx, s.Handler())
}

func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		c.Response().Header().Set(HeaderRequestID, newRequestID())
		return next(c)
	}
}

// ShardInfo describes one shard in a /v1/shards response.
type ShardInfo struct {
	Path       string `json:"path"`
	Size       uint64 `json:"size"`
	HeaderSize uint64 `json:"header_size"`
	Tensors    int    `json:"tensors"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// ShardList is the /v1/shards response.
type ShardList struct {
	Dir    string      `json:"dir"`
	Shards []ShardInfo `json:"shards"`
}

// TensorInfo describes one tensor.
type TensorInfo struct {
	Name     string  `json:"name"`
	DType    string  `json:"dtype"`
	Shape    []int64 `json:"shape"`
	Elements int64   `json:"elements"`
	Offset   uint64  `json:"offset"`
	Size     uint64  `json:"size"`
	Shard    string  `json:"shard"`
}

// TensorList is the /v1/tensors response.
type TensorList struct {
	Count   int          `json:"count"`
	Tensors []TensorInfo `json:"tensors"`
}

// TensorValues is the /v1/tensors/:name/values response. Values holds at
// most Limit elements; non-finite values are encoded as null.
type TensorValues struct {
	Name     string      `json:"name"`
	DType    string      `json:"dtype"`
	Elements int64       `json:"elements"`
	Limit    int         `json:"limit"`
	Values   []jsonFloat `json:"values"`
}

type jsonFloat float32

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 32), nil
}

func tensorInfo(t *safetensors.Tensor, f *safetensors.File) TensorInfo {
	shape := t.Shape
	if shape == nil {
		shape = []int64{}
	}
	return TensorInfo{
		Name:     t.Name,
		DType:    t.DType.String(),
		Shape:    shape,
		Elements: t.NumElements(),
		Offset:   t.Offset,
		Size:     t.Size,
		Shard:    f.Path(),
	}
}

func (s *Server) handleShards(c *echo.Context) error {
	shards := s.set.Shards()
	out := ShardList{Dir: s.set.Dir(), Shards: make([]ShardInfo, 0, len(shards))}
	for _, f := range shards {
		out.Shards = append(out.Shards, ShardInfo{
			Path:       f.Path(),
			Size:       f.Size(),
			HeaderSize: f.HeaderSize(),
			Tensors:    f.NumTensors(),
			Truncated:  f.Truncated(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleTensors(c *echo.Context) error {
	filter := c.QueryParam("filter")
	out := TensorList{Tensors: []TensorInfo{}}
	for t, f := range s.set.All() {
		if filter != "" && !strings.Contains(t.Name, filter) {
			continue
		}
		out.Tensors = append(out.Tensors, tensorInfo(t, f))
	}
	out.Count = len(out.Tensors)
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleTensor(c *echo.Context) error {
	t, f, err := s.set.Find(c.Param("name"))
	if err != nil {
		return writeReaderError(c, err)
	}
	return c.JSON(http.StatusOK, tensorInfo(t, f))
}

func (s *Server) handleValues(c *echo.Context) error {
	if !s.limiter.Allow() {
		return writeRateLimited(c)
	}

	limit := defaultValuesLimit
	if q := c.QueryParam("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > maxValuesLimit {
			return writeBadRequest(c, "limit must be an integer between 1 and "+strconv.Itoa(maxValuesLimit))
		}
		limit = n
	}

	t, f, err := s.set.Find(c.Param("name"))
	if err != nil {
		return writeReaderError(c, err)
	}
	vals, err := firstValues(f, t, limit)
	if err != nil {
		s.log.Warn("read tensor values failed", "tensor", t.Name, "error", err)
		return writeReaderError(c, err)
	}
	return c.JSON(http.StatusOK, TensorValues{
		Name:     t.Name,
		DType:    t.DType.String(),
		Elements: t.NumElements(),
		Limit:    limit,
		Values:   vals,
	})
}

// firstValues widens up to limit leading elements of t through a view, so
// the cost is bounded by limit rather than the tensor size.
func firstValues(f *safetensors.File, t *safetensors.Tensor, limit int) ([]jsonFloat, error) {
	switch t.DType {
	case safetensors.F32:
		v, err := f.F32(t)
		if err != nil {
			return nil, err
		}
		return widenN(min(limit, v.Len()), v.At), nil
	case safetensors.BF16:
		v, err := f.BF16(t)
		if err != nil {
			return nil, err
		}
		return widenN(min(limit, v.Len()), v.Float32At), nil
	case safetensors.F16:
		v, err := f.F16(t)
		if err != nil {
			return nil, err
		}
		return widenN(min(limit, v.Len()), v.Float32At), nil
	default:
		return nil, fmt.Errorf("%w: tensor %q is %s, want F32, BF16 or F16", safetensors.ErrDType, t.Name, t.DType)
	}
}

func widenN(n int, at func(int) float32) []jsonFloat {
	out := make([]jsonFloat, n)
	for i := range out {
		out[i] = jsonFloat(at(i))
	}
	return out
}
