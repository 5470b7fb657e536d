package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks the variables that override configuration keys.
	// "__" separates sections: TENANTGATE_HTTP__LISTEN_ADDR sets
	// http.listen_addr.
	EnvPrefix = "TENANTGATE_"
	// FileEnv names the YAML file to load instead of DefaultFile.
	FileEnv     = EnvPrefix + "CONFIG"
	DefaultFile = "config.yaml"
)

var validate = validator.New()

// Sources are the optional inputs of LoadFrom. A missing EnvFile is
// skipped; a missing File is skipped only when it is DefaultFile.
type Sources struct {
	EnvFile string
	File    string
}

// Load reads ./.env, then the YAML file named by TENANTGATE_CONFIG (or
// config.yaml), then the environment.
func Load() (*Config, error) {
	return LoadFrom(Sources{EnvFile: ".env", File: os.Getenv(FileEnv)})
}

// LoadFrom merges the sources over Default and validates the result.
func LoadFrom(src Sources) (*Config, error) {
	if src.EnvFile != "" {
		if err := godotenv.Load(src.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", src.EnvFile, err)
		}
	}

	k := koanf.New(".")

	path := src.File
	if path == "" {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || src.File != "" {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TENANTGATE_AUTH__JWT_SECRET to auth.jwt_secret.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(s, "__", "."))
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, len(verrs))
	for i, fe := range verrs {
		problems[i] = fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag())
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}
