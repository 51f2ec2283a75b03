package bridge

import (
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// Config controls runtime initialization. The zero value accepts whatever
// the binding provides and leaves the task subsystem off.
type Config struct {
	// Tier caps the capability tier exposed through the runtime. TierUnknown
	// means "use everything the binding probes to".
	Tier engine.Tier

	// Tasks enables channels and the background task subsystem. Requires a
	// binding with thread-safe dispatch.
	Tasks bool

	// Logger overrides the package-level logger for this runtime.
	Logger *zap.Logger
}

type configYAML struct {
	Tier  string `yaml:"tier"`
	Tasks bool   `yaml:"tasks"`
}

// ParseConfig reads a YAML configuration document:
//
//	tier: promises
//	tasks: true
//
// Unknown tier names and malformed documents are invalid_input errors.
func ParseConfig(data []byte) (Config, error) {
	var raw configYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config")
	}

	var cfg Config
	if raw.Tier != "" {
		tier, err := engine.ParseTier(raw.Tier)
		if err != nil {
			return Config{}, err
		}
		cfg.Tier = tier
	}
	cfg.Tasks = raw.Tasks
	return cfg, nil
}
