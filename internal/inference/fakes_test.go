package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rlt-tender/tenderguide/internal/logger"
)

// byteTokenizer maps every byte to its own id.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (byteTokenizer) Decode(ids []int, _ bool) (string, error) {
	b := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < 256 {
			b = append(b, byte(id))
		}
	}
	return string(b), nil
}

type nopModel struct{ closed atomic.Bool }

func (*nopModel) Reset() {}

func (*nopModel) ForwardToken(int) ([]float32, error) { return make([]float32, 256), nil }

func (*nopModel) VocabSize() int { return 256 }

func (m *nopModel) Close() error {
	m.closed.Store(true)
	return nil
}

type fakeLoader struct {
	calls      atomic.Int32
	failures   int32
	delay      time.Duration
	err        error
	maxContext int
}

var errMissingFile = errors.New("missing tokenizer.json")

func (l *fakeLoader) Load(_ context.Context, cfg Config, _ logger.Logger) (*Handle, error) {
	n := l.calls.Add(1)
	time.Sleep(l.delay)
	if l.err != nil {
		return nil, l.err
	}
	if n <= l.failures {
		return nil, loadErr("tokenizer", cfg.BaseModel, errMissingFile)
	}
	eos := []int{0}
	return &Handle{
		Tokenizer:  byteTokenizer{},
		Model:      &nopModel{},
		EOS:        eos,
		PadID:      0,
		Baseline:   baselineParams(eos, 0),
		Threads:    1,
		MaxContext: l.maxContext,
	}, nil
}

// scriptDecoder returns canned outputs in order and records every call.
type scriptDecoder struct {
	mu      sync.Mutex
	outputs []string
	err     error
	delay   time.Duration
	params  []GenerationParams
	prompts [][]int

	active    atomic.Int32
	maxActive atomic.Int32
}

func (d *scriptDecoder) decode(_ Model, prompt []int, p GenerationParams) ([]int, Stats, error) {
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		cur := d.maxActive.Load()
		if n <= cur || d.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(d.delay)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = append(d.params, p)
	d.prompts = append(d.prompts, prompt)
	if d.err != nil {
		return nil, Stats{PromptTokens: len(prompt)}, d.err
	}
	out := "ok"
	if i := len(d.params) - 1; i < len(d.outputs) {
		out = d.outputs[i]
	}
	ids, _ := byteTokenizer{}.Encode(out)
	return ids, Stats{PromptTokens: len(prompt), TokensGenerated: len(ids)}, nil
}

func (d *scriptDecoder) calls() []GenerationParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]GenerationParams(nil), d.params...)
}

func newTestService(t testing.TB, l Loader, d *scriptDecoder, opts ...ServiceOption) *Service {
	t.Helper()
	base := []ServiceOption{
		WithLoader(l),
		WithLogger(logger.Nop()),
		WithDecoder(d.decode),
		WithSeedSource(func() uint64 { return 7 }),
	}
	s, err := New(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
