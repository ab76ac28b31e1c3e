package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/rlt-tender/tenderguide/internal/inference"
	"github.com/rlt-tender/tenderguide/internal/logger"
)

func askCmd() *cli.Command {
	var (
		category    string
		subcat      string
		maxNew      int64
		minNew      int64
		sample      bool
		temperature float64
		topP        float64
	)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a single question and exit",
		ArgsUsage: "QUESTION...",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "category",
				Value:       inference.DefaultCategory,
				Destination: &category,
			},
			&cli.StringFlag{
				Name:        "subcat",
				Destination: &subcat,
			},
			&cli.Int64Flag{
				Name:        "max-new-tokens",
				Value:       inference.DefaultMaxNewTokens,
				Destination: &maxNew,
			},
			&cli.Int64Flag{
				Name:        "min-new-tokens",
				Value:       inference.DefaultMinNewTokens,
				Destination: &minNew,
			},
			&cli.BoolFlag{
				Name:        "sample",
				Usage:       "sample instead of greedy decoding",
				Destination: &sample,
			},
			&cli.FloatFlag{
				Name:        "temperature",
				Value:       inference.DefaultTemperature,
				Destination: &temperature,
			},
			&cli.FloatFlag{
				Name:        "top-p",
				Value:       inference.DefaultTopP,
				Destination: &topP,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if question == "" {
				return errors.New("ask: a question is required")
			}
			applyModelConfig(cmd, fileCfg)

			svc, err := inference.New(serviceConfig(), inference.WithLogger(logger.FromContext(ctx)))
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			gen, err := svc.Generator(ctx)
			if err != nil {
				return err
			}
			text, err := gen(ctx, question, category, subcat, inference.RequestOptions{
				MaxNewTokens:  inference.Ptr(int(maxNew)),
				MinNewTokens:  inference.Ptr(int(minNew)),
				Deterministic: inference.Ptr(!sample),
				Temperature:   inference.Ptr(float32(temperature)),
				TopP:          inference.Ptr(float32(topP)),
			})
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}
