package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	"github.com/isseis/go-boxps/internal/safefileio"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// LookupFunc looks up an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Loader resolves a Config from its sources.
type Loader struct {
	lookupEnv LookupFunc
}

// NewLoader creates a loader that reads the process environment.
func NewLoader() *Loader {
	return NewLoaderWithEnv(os.LookupEnv)
}

// NewLoaderWithEnv creates a loader with a custom environment lookup
func NewLoaderWithEnv(lookup LookupFunc) *Loader {
	return &Loader{lookupEnv: lookup}
}

// Load builds the configuration. Both paths are optional. Values from the
// process environment take precedence over the .env file, which takes
// precedence over the TOML file.
func (l *Loader) Load(configPath, envFile string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		content, err := safefileio.SafeReadFile(configPath)
		if err != nil {
			return nil, boxerrors.Wrap(boxerrors.KindBadEnvVar,
				fmt.Sprintf("cannot read config file %s", configPath), err)
		}
		if err := decodeTOML(content, &cfg); err != nil {
			return nil, boxerrors.Wrap(boxerrors.KindBadEnvVar,
				fmt.Sprintf("malformed config file %s", configPath), err)
		}
	}

	fileEnv := map[string]string{}
	if envFile != "" {
		content, err := safefileio.SafeReadFile(envFile)
		if err != nil {
			return nil, boxerrors.Wrap(boxerrors.KindBadEnvVar,
				fmt.Sprintf("cannot read environment file %s", envFile), err)
		}
		fileEnv, err = godotenv.Parse(bytes.NewReader(content))
		if err != nil {
			return nil, boxerrors.Wrap(boxerrors.KindBadEnvVar,
				fmt.Sprintf("malformed environment file %s", envFile), err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := l.lookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}

	if err := applyEnvironment(&cfg, lookup); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decodeTOML(content []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// applyEnvironment overlays environment values onto cfg. A variable that is
// set to an empty string counts as present and invalid.
func applyEnvironment(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup(InstallDirEnvVar); ok {
		if strings.TrimSpace(v) == "" {
			return boxerrors.Newf(boxerrors.KindBadEnvVar, "%s is set but empty", InstallDirEnvVar)
		}
		cfg.Sandbox.InstallDir = v
	}

	if v, ok := lookup(InterpreterEnvVar); ok {
		if strings.TrimSpace(v) == "" {
			return boxerrors.Newf(boxerrors.KindBadEnvVar, "%s is set but empty", InterpreterEnvVar)
		}
		cfg.Sandbox.Interpreter = v
	}

	if v, ok := lookup(TimeoutEnvVar); ok {
		secs, err := parseTimeoutSeconds(v)
		if err != nil {
			return boxerrors.Wrap(boxerrors.KindBadEnvVar,
				fmt.Sprintf("%s=%q is not a valid timeout", TimeoutEnvVar, v), err)
		}
		cfg.Sandbox.TimeoutSeconds = secs
	}

	if v, ok := lookup(MemoryLimitEnvVar); ok {
		mb, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return boxerrors.Wrap(boxerrors.KindBadEnvVar,
				fmt.Sprintf("%s=%q is not an integer", MemoryLimitEnvVar, v), err)
		}
		cfg.Sandbox.MemoryLimitMB = mb
	}

	if v, ok := lookup(ReportDirEnvVar); ok {
		cfg.Report.Dir = v
	}
	if v, ok := lookup(HistoryPathEnvVar); ok {
		cfg.History.Path = v
	}
	if v, ok := lookup(MetricsTextfileEnvVar); ok {
		cfg.Metrics.Textfile = v
	}

	return nil
}

// parseTimeoutSeconds accepts an integer number of seconds or a Go duration
// string. Fractional seconds round up.
func parseTimeoutSeconds(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return secs, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return -1, nil
	}
	return int64(math.Ceil(d.Seconds())), nil
}

// Overrides holds command-line values. They take precedence over every
// other source.
type Overrides struct {
	Timeout   string
	ReportDir string
}

// Apply overlays the non-empty overrides onto cfg and validates the result.
func (o Overrides) Apply(cfg *Config) error {
	if o.Timeout != "" {
		secs, err := parseTimeoutSeconds(o.Timeout)
		if err != nil {
			return boxerrors.Wrap(boxerrors.KindBadEnvVar,
				fmt.Sprintf("--timeout=%q is not a valid timeout", o.Timeout), err)
		}
		cfg.Sandbox.TimeoutSeconds = secs
	}
	if o.ReportDir != "" {
		cfg.Report.Dir = o.ReportDir
	}
	return Validate(cfg)
}
