package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Context participant
	ApplicationName    string        `mapstructure:"APPLICATION_NAME"`
	ApplicationPath    string        `mapstructure:"APPLICATION_PATH"`
	ApplicationKey     string        `mapstructure:"APPLICATION_KEY"`
	PatientContextKey  string        `mapstructure:"PATIENT_CONTEXT_KEY"`
	Surveyable         bool          `mapstructure:"SURVEYABLE"`
	SurveyResponse     string        `mapstructure:"SURVEY_RESPONSE"`
	ContextorURL       string        `mapstructure:"CONTEXTOR_URL"`
	ParticipantURL     string        `mapstructure:"PARTICIPANT_URL"`
	ContextCallTimeout time.Duration `mapstructure:"CONTEXT_CALL_TIMEOUT"`
	ContextMapFile     string        `mapstructure:"CONTEXT_MAP_FILE"`

	// Logoff
	LoginRedirect string `mapstructure:"LOGIN_REDIRECT"`
	LogoutURL     string `mapstructure:"LOGOUT_URL"`
	LogoutFormURL string `mapstructure:"LOGOUT_FORM_URL"`

	// Patient API
	PatientAPIURL   string        `mapstructure:"PATIENT_API_URL"`
	PatientCacheTTL time.Duration `mapstructure:"PATIENT_CACHE_TTL"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`

	// UI sessions
	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	// SessionUserHeader carries the user the SSO front authenticated.
	SessionUserHeader string `mapstructure:"SESSION_USER_HEADER"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"APPLICATION_NAME", "APPLICATION_PATH", "APPLICATION_KEY", "PATIENT_CONTEXT_KEY",
	"SURVEYABLE", "SURVEY_RESPONSE", "CONTEXTOR_URL", "PARTICIPANT_URL",
	"CONTEXT_CALL_TIMEOUT", "CONTEXT_MAP_FILE",
	"LOGIN_REDIRECT", "LOGOUT_URL", "LOGOUT_FORM_URL",
	"PATIENT_API_URL", "PATIENT_CACHE_TTL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SESSION_SECRET", "SESSION_TTL", "SESSION_USER_HEADER", "CORS_ORIGINS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APPLICATION_NAME", "ContextApp#")
	v.SetDefault("APPLICATION_PATH", "/")
	v.SetDefault("APPLICATION_KEY", "user.logon.id.windows")
	v.SetDefault("PATIENT_CONTEXT_KEY", "patient.id.mpi")
	v.SetDefault("SURVEYABLE", true)
	v.SetDefault("CONTEXTOR_URL", "http://localhost:2116/")
	v.SetDefault("CONTEXT_CALL_TIMEOUT", "10s")
	v.SetDefault("LOGIN_REDIRECT", "/")
	v.SetDefault("LOGOUT_URL", "/Shibboleth.sso/Logout")
	v.SetDefault("PATIENT_CACHE_TTL", "5m")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SESSION_TTL", "8h")
	v.SetDefault("SESSION_USER_HEADER", "X-Remote-User")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	if cfg.ParticipantURL == "" {
		cfg.ParticipantURL = cfg.Origin() + cfg.AppURL("ccow", "participant")
	}
	if cfg.PatientAPIURL == "" {
		cfg.PatientAPIURL = cfg.Origin() + cfg.AppURL("api", "patient")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AppURL joins ApplicationPath and segments into an absolute path.
func (c *Config) AppURL(segments ...string) string {
	parts := append([]string{c.ApplicationPath}, segments...)
	path := "/" + strings.Join(parts, "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// LoginURL resolves LOGIN_REDIRECT against the application path unless it
// is already absolute.
func (c *Config) LoginURL() string {
	if u, err := url.Parse(c.LoginRedirect); err == nil && u.IsAbs() {
		return c.LoginRedirect
	}
	return c.AppURL(c.LoginRedirect)
}

// Origin is the base URL the server reaches itself on.
func (c *Config) Origin() string {
	return "http://localhost:" + c.Port
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ApplicationName == "" {
		return fmt.Errorf("APPLICATION_NAME is required")
	}
	if c.ApplicationKey == "" || c.PatientContextKey == "" {
		return fmt.Errorf("APPLICATION_KEY and PATIENT_CONTEXT_KEY are required")
	}
	for name, raw := range map[string]string{
		"CONTEXTOR_URL":   c.ContextorURL,
		"PARTICIPANT_URL": c.ParticipantURL,
		"PATIENT_API_URL": c.PatientAPIURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.ContextCallTimeout <= 0 {
		return fmt.Errorf("CONTEXT_CALL_TIMEOUT must be positive, got %s", c.ContextCallTimeout)
	}
	if c.IsProduction() && len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET of at least 32 bytes is required in production")
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 bytes")
	}
	if c.SessionUserHeader == "" {
		return fmt.Errorf("SESSION_USER_HEADER is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// Warnings lists settings that are acceptable but unsafe outside
// development.
func (c *Config) Warnings() []string {
	var w []string
	if c.SessionSecret == "" {
		w = append(w, "SESSION_SECRET is empty; a random secret is used and sessions do not survive restarts")
	}
	if c.DatabaseURL == "" {
		w = append(w, "DATABASE_URL is empty; the patient API serves the built-in demo population")
	}
	for _, o := range c.CORSOrigins {
		if o == "*" && !c.IsDev() {
			w = append(w, "CORS_ORIGINS allows any origin")
		}
	}
	return w
}
