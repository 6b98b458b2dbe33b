// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	SolverTesseract   = "tesseract"
	SolverAntiCaptcha = "anticaptcha"
)

// Config holds every setting shared by the crawler CLI and the API server.
type Config struct {
	Port           string
	DataDir        string
	PageBucket     string
	LogFile        string
	LogLevel       string
	ProxyList      string
	JWTSecret      string
	CaptchaSolver  string
	AntiCaptchaKey string
	TesseractPSM   int
	TessdataDir    string
	CaptchaDelay   time.Duration
	NumScrapers    int
	RequestTimeout time.Duration
}

// Load reads the given .env files (".env" when none are given) and then the
// process environment. Missing .env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	psm, err := cast.ToIntE(getenv("TESSERACT_PSM", "6"))
	if err != nil {
		return nil, fmt.Errorf("invalid TESSERACT_PSM: %w", err)
	}
	scrapers, err := cast.ToIntE(getenv("NUM_SCRAPERS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid NUM_SCRAPERS: %w", err)
	}
	delay, err := cast.ToDurationE(getenv("CAPTCHA_DELAY", "4s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTCHA_DELAY: %w", err)
	}
	timeout, err := cast.ToDurationE(getenv("REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Port:           getenv("PORT", "8080"),
		DataDir:        getenv("DATA_DIR", "./pb_data"),
		PageBucket:     getenv("PAGE_BUCKET", "file://./pages"),
		LogFile:        getenv("LOG_FILE", "rccrawler.log"),
		LogLevel:       getenv("LOG_LEVEL", "debug"),
		ProxyList:      os.Getenv("PROXY_LIST"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		CaptchaSolver:  getenv("CAPTCHA_SOLVER", SolverTesseract),
		AntiCaptchaKey: os.Getenv("ANTI_CAPTCHA_KEY"),
		TesseractPSM:   psm,
		TessdataDir:    os.Getenv("TESSDATA_PREFIX"),
		CaptchaDelay:   delay,
		NumScrapers:    scrapers,
		RequestTimeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.PageBucket, validation.Required),
		validation.Field(&c.CaptchaSolver, validation.Required, validation.In(SolverTesseract, SolverAntiCaptcha)),
		validation.Field(&c.AntiCaptchaKey, validation.When(c.CaptchaSolver == SolverAntiCaptcha, validation.Required)),
		validation.Field(&c.TesseractPSM, validation.Min(0), validation.Max(13)),
		validation.Field(&c.NumScrapers, validation.Min(1)),
		validation.Field(&c.RequestTimeout, validation.Min(time.Second)),
	)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
