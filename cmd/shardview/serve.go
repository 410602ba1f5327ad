package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardview/internal/config"
	"github.com/samcharles93/shardview/internal/server"
)

func (a *app) serveCmd() *cli.Command {
	var (
		modelPath   string
		addr        string
		readTimeout time.Duration
		valuesRate  float64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a read-only HTTP API over a model directory",
		Flags: []cli.Flag{
			modelFlag(&modelPath),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       config.DefaultServerAddress,
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.FloatFlag{
				Name:        "values-rate",
				Usage:       "sustained /values requests per second",
				Value:       config.DefaultValuesRate,
				Destination: &valuesRate,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if a.cfg.ServerAddress != "" && !c.IsSet("addr") {
				addr = a.cfg.Address()
			}
			if a.cfg.ValuesRate != nil && !c.IsSet("values-rate") {
				valuesRate = a.cfg.Rate()
			}

			set, err := a.openModel(modelPath)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			srv := server.New(set, a.log, server.Config{
				Address:     addr,
				ReadTimeout: readTimeout,
				ValuesRate:  valuesRate,
			})
			return srv.Start(ctx)
		},
	}
}
