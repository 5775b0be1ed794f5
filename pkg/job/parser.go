package job

import (
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/lavakit/lavarun/pkg/joberrors"
)

// Options carries the optional parse inputs.
type Options struct {
	// ID is the job identifier stamped on the description.
	ID string

	// DispatcherConfig is the path to the dispatcher overlay, optional.
	DispatcherConfig string

	// EnvOverlay is the path to the environment overlay, optional.
	EnvOverlay string
}

// Parse builds a ready-to-validate Job from the definition and device
// files plus any overlays.
//
// Failure classification follows ownership: a broken definition is the
// submitter's problem (JobError), an unreadable device dictionary or
// overlay file is the host's (InfrastructureError), and a malformed
// overlay is the admin's (ConfigurationError).
func Parse(definitionPath, devicePath string, opts Options) (*Job, error) {
	defData, err := os.ReadFile(definitionPath)
	if err != nil {
		return nil, &joberrors.JobError{Msg: "cannot read job definition", Err: err}
	}
	var def Definition
	if err := yaml.Unmarshal(defData, &def); err != nil {
		return nil, &joberrors.JobError{Msg: "invalid job definition", Err: err}
	}

	devData, err := os.ReadFile(devicePath)
	if err != nil {
		return nil, &joberrors.InfrastructureError{Msg: "cannot read device configuration", Err: err}
	}
	var dev Device
	if err := yaml.Unmarshal(devData, &dev); err != nil {
		return nil, &joberrors.ConfigurationError{Msg: "invalid device configuration", Err: err}
	}

	j := &Job{
		ID:         opts.ID,
		Definition: &def,
		Device:     &dev,
	}

	if opts.DispatcherConfig != "" {
		var dc DispatcherConfig
		if err := decodeOverlay(opts.DispatcherConfig, &dc); err != nil {
			return nil, err
		}
		j.Dispatcher = &dc
	}

	if opts.EnvOverlay != "" {
		var env EnvOverlay
		if err := decodeOverlay(opts.EnvOverlay, &env); err != nil {
			return nil, err
		}
		j.Env = &env
	}

	j.buildPipeline()
	return j, nil
}

// decodeOverlay reads a YAML mapping and decodes it into the typed
// overlay struct, rejecting unknown keys.
func decodeOverlay(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &joberrors.InfrastructureError{Msg: "cannot read overlay", Err: err}
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &joberrors.ConfigurationError{Msg: "invalid overlay " + path, Err: err}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return &joberrors.ConfigurationError{Msg: "overlay decoder", Err: err}
	}
	if err := dec.Decode(raw); err != nil {
		return &joberrors.ConfigurationError{Msg: "invalid overlay " + path, Err: err}
	}
	return nil
}
