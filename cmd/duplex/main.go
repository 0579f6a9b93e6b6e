// duplex 双通道聊天的演示程序
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	var (
		cfg        *Config
		configPath string
		level      string
	)
	return &cli.App{
		Name:  "duplex",
		Usage: "Reliable + fast channel chat demo",
		Commands: []*cli.Command{
			serveCmd(&cfg),
			connectCmd(&cfg),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to a yaml or toml config file",
				EnvVars:     []string{"DUPLEX_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     []string{"DUPLEX_LOG_LEVEL"},
				Destination: &level,
			},
		},
		Before: func(ctx *cli.Context) error {
			c, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if level != "" {
				c.Log.Level = level
			}
			c.Log.Name = c.Name
			if err = log.Setup(c.Log); err != nil {
				return err
			}
			cfg = c
			return nil
		},
		After: func(*cli.Context) error {
			log.Flush()
			return nil
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Error("duplex failed: %v", err)
		log.Flush()
		os.Exit(1)
	}
}
