package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvParser converts the raw value of an environment variable.
type EnvParser[T any] func(string) (T, error)

var (
	GetenvString   EnvParser[string]        = func(s string) (string, error) { return s, nil }
	GetenvInt      EnvParser[int]           = strconv.Atoi
	GetenvBool     EnvParser[bool]          = strconv.ParseBool
	GetenvFloat    EnvParser[float64]       = parseFloat64
	GetenvDuration EnvParser[time.Duration] = time.ParseDuration
)

func parseFloat64(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

// ErrEnvNotSet is returned by Getenv for a required variable that is unset
// or empty.
var ErrEnvNotSet = errors.New("environment variable not set")

// Getenv reads key and parses it. An unset or empty variable yields def,
// unless required is set.
func Getenv[T any](parse EnvParser[T], key string, required bool, def T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			return def, fmt.Errorf("%s: %w", key, ErrEnvNotSet)
		}
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}

// MustGetenv is Getenv that panics on error.
func MustGetenv[T any](parse EnvParser[T], key string, required bool, def T) T {
	v, err := Getenv(parse, key, required, def)
	if err != nil {
		panic(err)
	}
	return v
}

// LoadDotenv loads the given .env files (".env" when none are given) into the
// process environment. Variables already set are kept. Missing files are
// ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}
