package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NILEBUS_"

// LoadOptions selects the configuration sources.
type LoadOptions struct {
	// Path is a TOML file. Empty skips the file layer; a missing file is an error.
	Path string

	// EnvFile is a dotenv file. Empty skips it; a missing file is ignored.
	EnvFile string

	// Environ returns the process environment. Defaults to os.Environ.
	Environ func() []string
}

// Load builds the configuration from, lowest precedence first, the
// built-in defaults, the TOML file, the dotenv file and the process
// environment. The result is validated.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", opts.Path, err)
		}
		if err := decodeTOML(opts.Path, data, cfg); err != nil {
			return nil, err
		}
	}

	env := make(map[string]string)
	if opts.EnvFile != "" {
		dotenv, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			for k, v := range dotenv {
				env[k] = v
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, &ParseError{Path: opts.EnvFile, Message: err.Error(), Err: err}
		}
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}
	for _, kv := range environ() {
		name, value, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(name, EnvPrefix) {
			env[name] = value
		}
	}

	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decodeTOML("<input>", data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeTOML overlays data on cfg. Unknown keys are rejected.
func decodeTOML(source string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}

		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			perr.Message = serr.String()
		}
		return perr
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}
