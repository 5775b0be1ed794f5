package job

// Device is the device dictionary: the static description of the
// board or container the job runs against.
type Device struct {
	DeviceType string         `yaml:"device_type"`
	Commands   map[string]any `yaml:"commands,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

// DispatcherConfig is the optional per-dispatcher overlay supplied by
// the scheduler, decoded from a YAML mapping via mapstructure.
type DispatcherConfig struct {
	Prefix string            `mapstructure:"prefix"`
	Env    map[string]string `mapstructure:"env"`
}

// EnvOverlay is the optional environment overlay applied to commands
// the job spawns.
type EnvOverlay struct {
	Purge     bool              `mapstructure:"purge"`
	Overrides map[string]string `mapstructure:"overrides"`
}
