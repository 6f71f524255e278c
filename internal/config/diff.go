package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; server and
// provider changes need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineChanged is set when new sessions would build their engine
	// differently (finalize words, manual mappings, catalog, correction).
	EngineChanged bool

	// MapperChanged is set when any mapper setting changed.
	MapperChanged bool

	// RestartRequired lists top-level sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// Changed reports whether d carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EngineChanged || d.MapperChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oe, ne := old.Engine, new.Engine
	if oe.MinPreviewChars != ne.MinPreviewChars ||
		oe.CatalogFile != ne.CatalogFile ||
		oe.PhoneticCorrection != ne.PhoneticCorrection ||
		oe.KeywordBoostLimit != ne.KeywordBoostLimit ||
		!slices.Equal(oe.FinalizeWords, ne.FinalizeWords) ||
		!maps.Equal(oe.ManualMappings, ne.ManualMappings) {
		d.EngineChanged = true
	}

	if old.Mapper != new.Mapper {
		d.MapperChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}

	return d
}
