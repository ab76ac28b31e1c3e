// Package inference answers procurement questions with a locally loaded
// causal language model. The model is loaded lazily, exactly once, and a
// single generation runs at a time.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rlt-tender/tenderguide/internal/logger"
	"github.com/rlt-tender/tenderguide/internal/metrics"
)

const tracerName = "github.com/rlt-tender/tenderguide/internal/inference"

type Service struct {
	cfg        Config
	loader     Loader
	log        logger.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	degenerate DegeneratePolicy
	retry      RetryPolicy
	decode     DecodeFunc
	seed       func() uint64

	handle atomic.Pointer[Handle]
	initMu sync.Mutex
	genMu  sync.Mutex
}

type ServiceOption func(*Service)

func WithLoader(l Loader) ServiceOption { return func(s *Service) { s.loader = l } }

func WithLogger(l logger.Logger) ServiceOption { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Metrics) ServiceOption { return func(s *Service) { s.metrics = m } }

func WithTracer(t trace.Tracer) ServiceOption { return func(s *Service) { s.tracer = t } }

func WithDegeneratePolicy(p DegeneratePolicy) ServiceOption {
	return func(s *Service) { s.degenerate = p }
}

func WithRetryPolicy(p RetryPolicy) ServiceOption { return func(s *Service) { s.retry = p } }

// WithDecoder replaces the decode loop.
func WithDecoder(d DecodeFunc) ServiceOption { return func(s *Service) { s.decode = d } }

// WithSeedSource sets where sampling seeds come from. It overrides
// Config.Seed.
func WithSeedSource(f func() uint64) ServiceOption { return func(s *Service) { s.seed = f } }

func New(cfg Config, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:        cfg,
		loader:     DirLoader{},
		log:        logger.Default(),
		tracer:     otel.Tracer(tracerName),
		degenerate: DefaultDegeneratePolicy(),
		retry:      DefaultRetryPolicy(),
		decode:     Decode,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed == nil {
		if cfg.Seed != 0 {
			seed := cfg.Seed
			s.seed = func() uint64 { return seed }
		} else {
			s.seed = rand.Uint64
		}
	}
	return s, nil
}

func (s *Service) Config() Config { return s.cfg }

// Loaded reports whether the model handle has been published.
func (s *Service) Loaded() bool { return s.handle.Load() != nil }

// Init loads the model on first use and returns the shared handle. Concurrent
// callers wait for the same load. A failed load is not remembered, so the
// next call tries again.
func (s *Service) Init(ctx context.Context) (*Handle, error) {
	if h := s.handle.Load(); h != nil {
		return h, nil
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if h := s.handle.Load(); h != nil {
		return h, nil
	}

	ctx, span := s.tracer.Start(ctx, "inference.Init")
	defer span.End()

	start := time.Now()
	h, err := s.loader.Load(ctx, s.cfg, s.log)
	if err == nil && h == nil {
		err = errNilHandle
	}
	if err != nil && !errors.Is(err, ErrModelLoad) {
		err = loadErr("load", s.cfg.BaseModel, err)
	}
	s.metrics.ModelLoaded(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model load failed")
		s.log.Error("model load failed", "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("adapter", h.AdapterAttached),
		attribute.Int("threads", h.Threads),
		attribute.IntSlice("eos", h.EOS),
	)
	s.handle.Store(h)
	return h, nil
}

// GenerateAnswer renders req into a prompt, decodes under the generation
// lock and returns the trimmed text. Output that looks degenerate is
// regenerated once in sampling mode and the second result is returned as
// is. ctx is not consulted for cancellation.
func (s *Service) GenerateAnswer(ctx context.Context, req Request) (string, error) {
	h, err := s.Init(ctx)
	if err != nil {
		return "", err
	}

	_, span := s.tracer.Start(ctx, "inference.GenerateAnswer", trace.WithAttributes(
		attribute.String("category", req.Category),
		attribute.Bool("deterministic", req.Deterministic),
	))
	defer span.End()

	text, retried, err := s.answer(h, req)
	span.SetAttributes(attribute.Bool("retried", retried))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", err
	}
	return text, nil
}

func (s *Service) answer(h *Handle, req Request) (string, bool, error) {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return "", false, fmt.Errorf("%w: render prompt: %w", ErrGeneration, err)
	}
	ids, err := safeEncode(h.Tokenizer, prompt)
	if err != nil {
		return "", false, fmt.Errorf("%w: encode prompt: %w", ErrGeneration, err)
	}
	params, err := fitContext(ParamsFor(req, h), len(ids), h.MaxContext)
	if err != nil {
		return "", false, err
	}

	wait := time.Now()
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.metrics.LockWaited(time.Since(wait))
	if s.handle.Load() != h {
		return "", false, ErrClosed
	}

	text, err := s.run(h, ids, params)
	if err != nil {
		return "", false, err
	}
	if !s.degenerate.Degenerate(text) {
		return text, false, nil
	}

	s.metrics.DegenerateRetry()
	s.log.Warn("degenerate output, retrying with sampling",
		"chars", utf8.RuneCountInString(text), "category", req.Category)
	text, err = s.run(h, ids, s.retry.Apply(params))
	if err != nil {
		return "", true, err
	}
	return text, true, nil
}

// run must be called with genMu held.
func (s *Service) run(h *Handle, prompt []int, p GenerationParams) (string, error) {
	if p.DoSample {
		p.Seed = s.seed()
	}
	out, stats, err := s.decode(h.Model, prompt, p)
	s.metrics.Generated(p.mode(), stats.PromptTokens, stats.TokensGenerated, stats.Duration, err)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	text, err := safeDecode(h.Tokenizer, out)
	if err != nil {
		return "", fmt.Errorf("%w: decode output: %w", ErrGeneration, err)
	}
	s.log.Debug("generation finished",
		"mode", p.mode(),
		"prompt_tokens", stats.PromptTokens,
		"tokens", stats.TokensGenerated,
		"eos", stats.StoppedOnEOS,
		"tps", stats.TPS,
	)
	return strings.TrimSpace(text), nil
}

// AnswerFunc answers a question with the given category metadata.
type AnswerFunc func(ctx context.Context, question, category, subcat string, opts RequestOptions) (string, error)

// Generator initializes the service and returns a function that forwards to
// GenerateAnswer.
func (s *Service) Generator(ctx context.Context) (AnswerFunc, error) {
	if _, err := s.Init(ctx); err != nil {
		return nil, err
	}
	return func(ctx context.Context, question, category, subcat string, opts RequestOptions) (string, error) {
		return s.GenerateAnswer(ctx, ResolveRequest(question, category, subcat, opts))
	}, nil
}

// Close releases the model once no generation is running. Requests that were
// already waiting for the lock fail with ErrClosed; later calls load the
// model again.
func (s *Service) Close() error {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.handle.Swap(nil).Close()
}
