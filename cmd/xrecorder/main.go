package main

import (
	"context"
	"fmt"
	"os"

	"github.com/RenatoCabral2022/xrecorder/internal/cli"
	"github.com/RenatoCabral2022/xrecorder/internal/client"
	"github.com/RenatoCabral2022/xrecorder/internal/config"
	"github.com/RenatoCabral2022/xrecorder/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	deps := &cli.Dependencies{
		Config: cfg,
		Client: client.New(cfg.ServerURL, cfg.APIToken),
	}

	return cli.NewRootCmd(deps).ExecuteContext(context.Background())
}
