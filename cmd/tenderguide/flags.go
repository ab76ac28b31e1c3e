package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rlt-tender/tenderguide/internal/inference"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	baseModel  string
	adapterDir string
	maxThreads int64
	maxContext int64
	seed       int64

	// fileCfg is the parsed config file, set before any subcommand runs.
	fileCfg Config
)

func rootFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a YAML or TOML config file",
			Value:       configPath(),
			Destination: &configFile,
		},
	}, loggingFlags()...)
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "base-model",
			Aliases:     []string{"m"},
			Usage:       "Hugging Face checkpoint directory of the base model",
			Value:       inference.DefaultBaseModel,
			Sources:     cli.EnvVars("BASE_MODEL"),
			Destination: &baseModel,
		},
		&cli.StringFlag{
			Name:        "adapter",
			Usage:       "PEFT LoRA adapter directory (skipped when missing)",
			Value:       inference.DefaultAdapterDir,
			Sources:     cli.EnvVars("ADAPTER_DIR"),
			Destination: &adapterDir,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "compute thread ceiling",
			Value:       inference.DefaultMaxThreads,
			Sources:     cli.EnvVars("LLM_THREADS"),
			Destination: &maxThreads,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"ctx"},
			Usage:       "KV cache length (0 = model default)",
			Destination: &maxContext,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "fixed sampling seed (0 = random per generation)",
			Destination: &seed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// serviceConfig collects the model flags after config file defaults were
// applied.
func serviceConfig() inference.Config {
	return inference.Config{
		BaseModel:  baseModel,
		AdapterDir: adapterDir,
		MaxThreads: int(maxThreads),
		MaxContext: int(maxContext),
		Seed:       uint64(seed),
	}
}

const defaultCacheTTL = 10 * time.Minute
