package main

import (
	"fmt"
	"os"

	"github.com/danmuck/hublink/internal/device"
	"github.com/danmuck/hublink/internal/logging"
	"github.com/danmuck/hublink/internal/observability"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "devicectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("devicectl", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "cmd/devicectl/config.toml", "device config path")
	logLevel := flags.String("log-level", "", "override log level (debug|info|warn|error)")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logger := observability.InitLogger("devicectl")
	if *logLevel != "" && !logging.SetLevel(*logLevel) {
		return fmt.Errorf("unknown log level %q", *logLevel)
	}

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		return err
	}
	svc, err := device.NewService(cfg, device.WithLogger(logger))
	if err != nil {
		return err
	}
	return svc.Run()
}
