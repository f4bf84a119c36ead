package main

import "os"

type FeatureFlags struct {
	AnnouncerEnabled   bool
	SweepTickerEnabled bool
}

var featureFlags = loadFeatureFlags()

func loadFeatureFlags() FeatureFlags {
	return FeatureFlags{
		AnnouncerEnabled:   envFlag("ENABLE_ANNOUNCER", true),
		SweepTickerEnabled: envFlag("ENABLE_SWEEP_TICKER", true),
	}
}

func envFlag(name string, fallback bool) bool {
	val := os.Getenv(name)
	if val == "" {
		return fallback
	}
	return val == "true" || val == "1" || val == "yes"
}
