package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/coursemgmt/educhat/internal/app"
	"github.com/coursemgmt/educhat/internal/config"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (default ~/.educhat/config.toml)")
	flag.Parse()

	profile := config.ResolveProfile(*profileFlag)
	if err := config.ValidateProfileName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = config.Path()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "no config at %s; create it with server_url, api_base_url, and token\n", configPath)
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		}
		os.Exit(1)
	}
	if cfg.ServerURL == "" || cfg.APIBaseURL == "" {
		fmt.Fprintf(os.Stderr, "config %s must set server_url and api_base_url\n", configPath)
		os.Exit(1)
	}

	fx.New(
		fx.NopLogger,
		app.Module(app.Params{Profile: profile, Config: cfg}),
	).Run()
}
