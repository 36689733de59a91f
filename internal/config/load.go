package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dshills/bufstream/internal/config/loader"
)

// DefaultDotEnv is the .env file read from the working directory.
const DefaultDotEnv = ".env"

type loadOptions struct {
	fs      loader.FileSystem
	dotenv  []string
	environ func() []string
	search  []string

	searchSet bool
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithFileSystem reads config files from fsys.
func WithFileSystem(fsys loader.FileSystem) LoadOption {
	return func(o *loadOptions) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithDotEnv replaces the .env files that are consulted. Pass no paths to
// skip .env loading.
func WithDotEnv(paths ...string) LoadOption {
	return func(o *loadOptions) {
		o.dotenv = paths
	}
}

// WithEnviron replaces os.Environ as the variable source.
func WithEnviron(environ func() []string) LoadOption {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// WithSearchPaths replaces the files tried when no path is given.
func WithSearchPaths(paths ...string) LoadOption {
	return func(o *loadOptions) {
		o.search = paths
		o.searchSet = true
	}
}

// SearchPaths returns the files Load tries, in order, when called without an
// explicit path.
func SearchPaths() []string {
	paths := []string{"bufstream.toml", "bufstream.yaml", "bufstream.yml"}
	if dir, err := os.UserConfigDir(); err == nil {
		base := filepath.Join(dir, "bufstream")
		paths = append(paths,
			filepath.Join(base, "config.toml"),
			filepath.Join(base, "config.yaml"),
		)
	}
	return paths
}

// Load builds a Config from, lowest precedence first: built-in defaults, the
// config file, .env files and BUFSTREAM_* environment variables. An empty
// path searches SearchPaths and uses the first file found; a named path must
// exist. The result is validated. Command-line flags are applied by the
// caller on top.
func Load(path string, opts ...LoadOption) (Config, error) {
	o := loadOptions{
		fs:     loader.DefaultFS(),
		dotenv: []string{DefaultDotEnv},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.searchSet {
		o.search = SearchPaths()
	}

	cfg := Default()
	files := loader.NewFileLoaderWithFS(o.fs)

	if path != "" {
		if err := files.Load(path, &cfg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return cfg, err
		}
	} else {
		for _, candidate := range o.search {
			err := files.Load(candidate, &cfg)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return cfg, err
			}
			break
		}
	}

	envOpts := []loader.EnvOption{loader.WithDotEnv(o.dotenv...)}
	if o.environ != nil {
		envOpts = append(envOpts, loader.WithEnviron(o.environ))
	}
	if err := loader.NewEnvLoader(EnvPrefix, envOpts...).Load(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
