package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults for the public Pijaz platform.
const (
	DefaultAPIServerURL    = "http://api.pijaz.com/"
	DefaultRenderServerURL = "http://render.pijaz.com/"
	APIVersion             = "1"
	DefaultRefreshFuzz     = 10 * time.Second
	DefaultMaxAttempts     = 2
)

// Config holds the immutable settings of a ServerManager.
type Config struct {
	// AppID is the ID of the client application (required).
	AppID string `validate:"required"`

	// APIKey is the key associated with the client application (required).
	APIKey Secret `validate:"required"`

	// APIServerURL is the API service base URL, including the trailing slash.
	APIServerURL string `validate:"required,url,endswith=/"`

	// RenderServerURL is the rendering service base URL, including the trailing slash.
	RenderServerURL string `validate:"required,url,endswith=/"`

	// APIVersion is the API version to speak. Only "1" exists.
	APIVersion string `validate:"required,eq=1"`

	// RefreshFuzz is shaved off every token lifetime so a fresh token is
	// requested shortly before the server would expire it. Zero selects
	// DefaultRefreshFuzz.
	RefreshFuzz time.Duration `validate:"gte=0"`

	// MaxAttempts bounds the total tries of one API command on transport failures.
	MaxAttempts int `validate:"gte=1"`
}

// DefaultConfig returns a Config pointing at the public platform.
func DefaultConfig(appID, apiKey string) Config {
	return Config{
		AppID:           appID,
		APIKey:          NewSecret(apiKey),
		APIServerURL:    DefaultAPIServerURL,
		RenderServerURL: DefaultRenderServerURL,
		APIVersion:      APIVersion,
		RefreshFuzz:     DefaultRefreshFuzz,
		MaxAttempts:     DefaultMaxAttempts,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterCustomTypeFunc(func(v reflect.Value) any {
			if s, ok := v.Interface().(Secret); ok {
				return s.Expose()
			}
			return nil
		}, Secret{})
	})
	return validate
}

// Validate checks that the configuration is usable.
// The returned error wraps ErrInvalidConfig and names every failing field.
func (c Config) Validate() error {
	err := configValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// withDefaults fills zero values with platform defaults.
func (c Config) withDefaults() Config {
	if c.APIServerURL == "" {
		c.APIServerURL = DefaultAPIServerURL
	}
	if c.RenderServerURL == "" {
		c.RenderServerURL = DefaultRenderServerURL
	}
	if c.APIVersion == "" {
		c.APIVersion = APIVersion
	}
	if c.RefreshFuzz == 0 {
		c.RefreshFuzz = DefaultRefreshFuzz
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}
