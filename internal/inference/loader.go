package inference

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/rlt-tender/tenderguide/internal/chat"
	"github.com/rlt-tender/tenderguide/internal/logger"
	"github.com/rlt-tender/tenderguide/internal/model"
	"github.com/rlt-tender/tenderguide/internal/tokenizer"
)

// Loader builds a Handle from configuration. Errors should be *LoadError.
type Loader interface {
	Load(ctx context.Context, cfg Config, log logger.Logger) (*Handle, error)
}

// DirLoader reads a Hugging Face checkpoint directory and an optional PEFT
// LoRA adapter directory.
type DirLoader struct{}

func (DirLoader) Load(ctx context.Context, cfg Config, log logger.Logger) (*Handle, error) {
	log.Info("loading tokenizer", "path", cfg.BaseModel)
	tok, err := tokenizer.Load(cfg.BaseModel)
	if err != nil {
		return nil, loadErr("tokenizer", cfg.BaseModel, err)
	}
	if tok.AliasPadToEOS() {
		log.Debug("pad token aliased to eos", "token", tok.EOSToken())
	}
	tok.SetSide(tokenizer.PadRight)
	if !chat.IsChatML(tok.ChatTemplate()) {
		log.Warn("chat template does not use ChatML markers")
	}

	threads := ThreadCount(ctx, cfg.maxThreads())
	log.Info("loading base model", "path", cfg.BaseModel, "threads", threads, "dtype", "float32")
	m, err := model.Load(cfg.BaseModel, model.LoadOptions{
		MaxContext: cfg.MaxContext,
		Threads:    threads,
		Logger:     log,
	})
	if err != nil {
		return nil, loadErr("base model", cfg.BaseModel, err)
	}

	gen, err := model.ReadGenerationConfig(cfg.BaseModel)
	if err != nil {
		_ = m.Close()
		return nil, loadErr("generation config", cfg.BaseModel, err)
	}

	attached := false
	if hasEntries(cfg.AdapterDir) {
		log.Info("attaching adapter", "path", cfg.AdapterDir)
		ad, err := model.LoadAdapter(cfg.AdapterDir)
		if err == nil {
			err = m.AttachAdapter(ad)
		}
		if err != nil {
			_ = m.Close()
			return nil, loadErr("adapter", cfg.AdapterDir, err)
		}
		attached = true
		log.Debug("adapter attached", "modules", len(ad.Pairs), "rank", ad.Config.R)
	} else {
		log.Warn("adapter dir not found, running base model only", "path", cfg.AdapterDir)
	}

	eos := EOSSet(tok, gen)
	pad := padID(tok, eos)
	log.Info("model ready", "eos", eos, "pad", pad, "adapter", attached)
	return &Handle{
		Tokenizer:       tok,
		Model:           m,
		EOS:             eos,
		PadID:           pad,
		Baseline:        baselineParams(eos, pad),
		AdapterAttached: attached,
		Threads:         m.Threads(),
		MaxContext:      m.MaxContext,
	}, nil
}

// padID is the eos id, matching how generation pads with the end marker.
func padID(tok eosVocab, eos []int) int {
	if id := tok.EOSID(); id >= 0 {
		return id
	}
	if id := tok.PadID(); id >= 0 {
		return id
	}
	return eos[0]
}

func hasEntries(dir string) bool {
	if dir == "" {
		return false
	}
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// ThreadCount is min(ceiling, usable cores), at least 1.
func ThreadCount(ctx context.Context, ceiling int) int {
	cores := runtime.GOMAXPROCS(0)
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		cores = min(cores, n)
	}
	return max(1, min(ceiling, cores))
}
