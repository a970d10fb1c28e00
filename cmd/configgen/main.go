package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/hublink/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := flags.String("kind", "device", "config kind: device|service")
	output := flags.StringP("output", "o", "", "output path for config template")
	validate := flags.Bool("validate", false, "validate an existing config file")
	input := flags.StringP("input", "i", "", "config path for validation (defaults to per-kind path)")
	force := flags.Bool("force", false, "overwrite existing config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *validate {
		path := *input
		if path == "" {
			var err error
			if path, err = defaultPath(*kind); err != nil {
				return err
			}
		}
		switch *kind {
		case "device":
			if _, err := config.ValidateDeviceFile(path); err != nil {
				return err
			}
		case "service":
			if _, err := config.LoadServiceProfile(path); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "validated %s config at %s\n", *kind, path)
		return nil
	}

	target := *output
	if target == "" {
		var err error
		if target, err = defaultPath(*kind); err != nil {
			return err
		}
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s config template to %s\n", *kind, target)
	return nil
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case "device":
		return "cmd/devicectl/config.toml", nil
	case "service":
		return "cmd/hubctl/service.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}
