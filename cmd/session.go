package cmd

import (
	"fmt"

	"github.com/BioHazard786/meshcall/internal/config"
)

func configOptions() config.Options {
	return config.Options{
		Domain:        flagDomain,
		SignalURL:     flagSignalURL,
		DisplayName:   flagName,
		STUNServer:    flagSTUN,
		TURNServer:    flagTURN,
		TURNUser:      flagTURNUser,
		TURNPass:      flagTURNPass,
		ForceRelay:    flagRelay,
		MediaProvider: flagMedia,
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}
