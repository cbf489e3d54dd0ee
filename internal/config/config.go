// Package config loads nativedeps.conf and the NATIVEDEPS_* environment.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix marks environment variables that override file values.
const EnvPrefix = "NATIVEDEPS_"

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "nativedeps.conf"

// Config holds raw key=value pairs.
type Config struct {
	Values map[string]string
}

// Options is the typed view of a Config.
type Options struct {
	Root              string
	Skip              string
	WithMPI           bool
	AtlasPointerWidth int
	AtlasCPUThrottle  bool
	SkipBuildErrors   bool
	Jobs              int
	Debug             bool
	VerifyDownloads   bool
	HTTPTimeout       time.Duration
	Catalogue         string
}

// Load reads path (a missing file is not an error) and merges NATIVEDEPS_* env overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := parse(cfg, file); err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, err
	}

	mergeEnvOverrides(cfg, os.Environ())
	return cfg, nil
}

func parse(cfg *Config, f *os.File) error {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = normalizeKey(strings.TrimSpace(key))
		cfg.Values[key] = strings.Trim(strings.TrimSpace(val), `"'`)
	}
	return scanner.Err()
}

// normalizeKey lets the file use either ROOT or NATIVEDEPS_ROOT.
func normalizeKey(k string) string {
	k = strings.ToUpper(k)
	if !strings.HasPrefix(k, EnvPrefix) {
		k = EnvPrefix + k
	}
	return k
}

func mergeEnvOverrides(cfg *Config, environ []string) {
	for _, env := range environ {
		if !strings.HasPrefix(env, EnvPrefix) {
			continue
		}
		if k, v, ok := strings.Cut(env, "="); ok {
			cfg.Values[k] = v
		}
	}
}

// Options converts the raw values, applying defaults.
func (c *Config) Options() (Options, error) {
	opts := Options{
		Root:        "install",
		Jobs:        1,
		HTTPTimeout: 10 * time.Minute,
	}
	var err error
	get := func(name string) (string, bool) {
		v, ok := c.Values[EnvPrefix+name]
		return v, ok && v != ""
	}

	if v, ok := get("ROOT"); ok {
		opts.Root = v
	}
	if v, ok := get("SKIP"); ok {
		opts.Skip = v
	}
	if v, ok := get("CATALOGUE"); ok {
		opts.Catalogue = v
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"WITH_MPI", &opts.WithMPI},
		{"ATLAS_CPU_THROTTLE", &opts.AtlasCPUThrottle},
		{"SKIP_BUILD_ERRORS", &opts.SkipBuildErrors},
		{"DEBUG", &opts.Debug},
		{"VERIFY_DOWNLOADS", &opts.VerifyDownloads},
	}
	for _, b := range bools {
		v, ok := get(b.name)
		if !ok {
			continue
		}
		if *b.dst, err = strconv.ParseBool(v); err != nil {
			return opts, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err)
		}
	}

	if v, ok := get("ATLAS_POINTER_WIDTH"); ok {
		if opts.AtlasPointerWidth, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("%sATLAS_POINTER_WIDTH: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("JOBS"); ok {
		if opts.Jobs, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("%sJOBS: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("HTTP_TIMEOUT"); ok {
		if opts.HTTPTimeout, err = time.ParseDuration(v); err != nil {
			return opts, fmt.Errorf("%sHTTP_TIMEOUT: %w", EnvPrefix, err)
		}
	}

	return opts, opts.Validate()
}

// Validate checks value ranges.
func (o Options) Validate() error {
	switch o.AtlasPointerWidth {
	case 0, 32, 64:
	default:
		return fmt.Errorf("atlas pointer width must be 32 or 64, got %d", o.AtlasPointerWidth)
	}
	if o.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1, got %d", o.Jobs)
	}
	if o.Root == "" {
		return errors.New("staging root is empty")
	}
	return nil
}
