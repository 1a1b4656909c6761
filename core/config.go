package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	// Config holds the entire application configuration. It is built once at
	// process start by NewConfig and treated as immutable afterwards; every
	// component receives it explicitly instead of reading the environment
	// ad hoc.
	Config struct {
		Debug            bool
		TestMode         bool
		Env              string // DEV (default), TEST, QA, PROD
		Build            string
		AppName          string
		SecretKey        string // signs password-reset tokens
		FrontendBaseURL  string
		DefaultFromEmail string
		SendgridAPIKey   string
		RollbarToken     string

		PasswordResetTimeout time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Auth     AuthConfig
	}

	ServerConfig struct {
		Host            string
		Port            int
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          int
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	AuthConfig struct {
		AccessTokenSecret      string
		RefreshTokenSecret     string
		AccessTokenTTL         time.Duration
		RefreshTokenTTL        time.Duration
		HashCost               int
		MaxFailedLoginAttempts int
		LockoutDuration        time.Duration
	}
)

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewConfig loads the configuration: viper defaults, then an optional
// config/.env.<env> file, then the process environment.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("DEBUG", true)
	v.SetDefault("BUILD", "dev")
	v.SetDefault("APP_NAME", "Darasa")
	v.SetDefault("SECRET_KEY", "x1wp-hqz)vmc$+48=kt&yoxh2(h!d)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:3000")
	v.SetDefault("DEFAULT_FROM_EMAIL", "noreply@localhost")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("ROLLBAR_TOKEN", "")
	v.SetDefault("PASSWORD_RESET_TIMEOUT", 3*24*time.Hour)

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8000)
	v.SetDefault("DEBUG_HOST", "0.0.0.0:4000")
	v.SetDefault("SHUTDOWN_TIMEOUT", 5*time.Second)

	v.SetDefault("DATABASE_ENGINE", "postgres")
	v.SetDefault("DATABASE_NAME", "darasa")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "darasa")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_ADMIN_USER", "")
	v.SetDefault("DATABASE_ADMIN_PASSWORD", "")
	v.SetDefault("DATABASE_DISABLE_TLS", true)

	v.SetDefault("ACCESS_TOKEN_SECRET", "")
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL", 15*time.Minute)
	v.SetDefault("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	v.SetDefault("HASH_COST_FACTOR", 12)
	v.SetDefault("MAX_FAILED_LOGIN_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_DURATION", 2*time.Hour)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// load config/.env.<env> if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:            v.GetBool("DEBUG"),
		TestMode:         env == "TEST",
		Env:              env,
		Build:            v.GetString("BUILD"),
		AppName:          v.GetString("APP_NAME"),
		SecretKey:        v.GetString("SECRET_KEY"),
		FrontendBaseURL:  v.GetString("FRONTEND_BASE_URL"),
		DefaultFromEmail: v.GetString("DEFAULT_FROM_EMAIL"),
		SendgridAPIKey:   v.GetString("SENDGRID_API_KEY"),
		RollbarToken:     v.GetString("ROLLBAR_TOKEN"),

		PasswordResetTimeout: v.GetDuration("PASSWORD_RESET_TIMEOUT"),

		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetInt("SERVER_PORT"),
			DebugHost:       v.GetString("DEBUG_HOST"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("DATABASE_ENGINE"),
			Name:          v.GetString("DATABASE_NAME"),
			Host:          v.GetString("DATABASE_HOST"),
			Port:          v.GetInt("DATABASE_PORT"),
			User:          v.GetString("DATABASE_USER"),
			Password:      v.GetString("DATABASE_PASSWORD"),
			AdminUser:     v.GetString("DATABASE_ADMIN_USER"),
			AdminPassword: v.GetString("DATABASE_ADMIN_PASSWORD"),
			DisableTLS:    v.GetBool("DATABASE_DISABLE_TLS"),
		},
		Auth: AuthConfig{
			AccessTokenSecret:      v.GetString("ACCESS_TOKEN_SECRET"),
			RefreshTokenSecret:     v.GetString("REFRESH_TOKEN_SECRET"),
			AccessTokenTTL:         v.GetDuration("ACCESS_TOKEN_TTL"),
			RefreshTokenTTL:        v.GetDuration("REFRESH_TOKEN_TTL"),
			HashCost:               v.GetInt("HASH_COST_FACTOR"),
			MaxFailedLoginAttempts: v.GetInt("MAX_FAILED_LOGIN_ATTEMPTS"),
			LockoutDuration:        v.GetDuration("LOCKOUT_DURATION"),
		},
	}

	// token secrets fall back to the app secret in DEV only
	if conf.Auth.AccessTokenSecret == "" {
		if env != "DEV" && env != "TEST" {
			log.Fatal("config: ACCESS_TOKEN_SECRET is required")
		}
		conf.Auth.AccessTokenSecret = conf.SecretKey + ".access"
	}
	if conf.Auth.RefreshTokenSecret == "" {
		if env != "DEV" && env != "TEST" {
			log.Fatal("config: REFRESH_TOKEN_SECRET is required")
		}
		conf.Auth.RefreshTokenSecret = conf.SecretKey + ".refresh"
	}

	return conf
}
