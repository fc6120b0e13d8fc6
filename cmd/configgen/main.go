// configgen writes or validates rcpd and rcpctl config templates.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/rcpctl/internal/config"
	"github.com/danmuck/rcpctl/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case "server", "rcpd":
		return "cmd/rcpd/config.toml", nil
	case "client", "rcpctl":
		return "cmd/rcpctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func validate(kind, path string) error {
	switch kind {
	case "server", "rcpd":
		_, err := config.LoadServerConfig(path)
		return err
	case "client", "rcpctl":
		_, err := config.LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown kind: %s", kind)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.StringP("kind", "k", "server", "config kind: server|client")
	output := fs.StringP("output", "o", "", "output path for config template")
	check := fs.Bool("validate", false, "validate an existing config file")
	input := fs.StringP("input", "i", "", "config path for validation (defaults to per-kind cmd path)")
	force := fs.BoolP("force", "f", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.ConfigureRuntime()

	if *check {
		path := *input
		if path == "" {
			def, err := defaultPath(*kind)
			if err != nil {
				return err
			}
			path = def
		}
		if err := validate(*kind, path); err != nil {
			return err
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("configgen validated")
		return nil
	}

	target := *output
	if target == "" {
		def, err := defaultPath(*kind)
		if err != nil {
			return err
		}
		target = def
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("configgen wrote template")
	return nil
}
