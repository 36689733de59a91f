package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvLoader overlays environment variables onto a struct tagged with `env`
// and `envPrefix`.
type EnvLoader struct {
	prefix  string   // Environment variable prefix (e.g., "BUFSTREAM_")
	dotenv  []string // .env files, earlier files win
	environ func() []string
}

// EnvOption configures an EnvLoader.
type EnvOption func(*EnvLoader)

// WithDotEnv adds .env files to read before the process environment.
// Missing files are skipped.
func WithDotEnv(paths ...string) EnvOption {
	return func(l *EnvLoader) {
		l.dotenv = append(l.dotenv, paths...)
	}
}

// WithEnviron replaces os.Environ as the source of process variables.
func WithEnviron(environ func() []string) EnvOption {
	return func(l *EnvLoader) {
		if environ != nil {
			l.environ = environ
		}
	}
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "BUFSTREAM_").
func NewEnvLoader(prefix string, opts ...EnvOption) *EnvLoader {
	l := &EnvLoader{
		prefix:  prefix,
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load sets every field of v whose variable is present and non-empty.
// Process variables override .env values.
func (l *EnvLoader) Load(v any) error {
	vars, err := l.Environment()
	if err != nil {
		return err
	}
	if err := env.ParseWithOptions(v, env.Options{
		Prefix:      l.prefix,
		Environment: vars,
	}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

// Environment returns the merged variable set Load reads from.
func (l *EnvLoader) Environment() (map[string]string, error) {
	vars := make(map[string]string)

	for i := len(l.dotenv) - 1; i >= 0; i-- {
		path := l.dotenv[i]
		fileVars, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, &ParseError{Path: path, Message: err.Error(), Err: err}
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}

	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[name] = value
	}
	return vars, nil
}
