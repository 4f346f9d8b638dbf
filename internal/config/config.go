package config

import (
	"errors"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in images without zoneinfo

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ErrMissingJWTSecret is returned when JWT_SECRET is not configured.
var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// DBTimeout bounds every individual persistence call.
	DBTimeout time.Duration

	ServerPort     string
	RequestTimeout time.Duration

	JWTSecret string

	AccessTokenMaxAge  int
	RefreshTokenMaxAge int
	CookieSecure       bool

	CORSAllowedOrigins []string

	RedisURL    string
	WorkerCount int

	// Location is the calendar used for day and week boundaries.
	Location *time.Location

	LogLevel  string
	LogFormat string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_TIMEOUT", "5s")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("ACCESS_TOKEN_MAX_AGE", 900)
	v.SetDefault("REFRESH_TOKEN_MAX_AGE", 2592000)
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("WORKER_COUNT", 2)
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	jwtSecret := v.GetString("JWT_SECRET")
	if jwtSecret == "" {
		return nil, ErrMissingJWTSecret
	}

	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return nil, err
	}

	accessTokenMaxAge := v.GetInt("ACCESS_TOKEN_MAX_AGE")
	if accessTokenMaxAge <= 0 {
		accessTokenMaxAge = 900
	}
	refreshTokenMaxAge := v.GetInt("REFRESH_TOKEN_MAX_AGE")
	if refreshTokenMaxAge <= 0 {
		refreshTokenMaxAge = 2592000
	}

	dbTimeout := v.GetDuration("DB_TIMEOUT")
	if dbTimeout <= 0 {
		dbTimeout = 5 * time.Second
	}

	var origins []string
	for _, o := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetString("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBSSLMode:  v.GetString("DB_SSLMODE"),
		DBTimeout:  dbTimeout,

		ServerPort:     v.GetString("SERVER_PORT"),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),

		JWTSecret: jwtSecret,

		AccessTokenMaxAge:  accessTokenMaxAge,
		RefreshTokenMaxAge: refreshTokenMaxAge,
		CookieSecure:       v.GetBool("COOKIE_SECURE"),

		CORSAllowedOrigins: origins,

		RedisURL:    v.GetString("REDIS_URL"),
		WorkerCount: v.GetInt("WORKER_COUNT"),

		Location: loc,

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		R2AccountID:       v.GetString("R2_ACCOUNT_ID"),
		R2AccessKeyID:     v.GetString("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: v.GetString("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      v.GetString("R2_BUCKET_NAME"),
		R2PublicURL:       v.GetString("R2_PUBLIC_URL"),
	}, nil
}

// MediaEnabled reports whether avatar storage credentials are present.
func (c *Config) MediaEnabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" &&
		c.R2BucketName != "" && c.R2PublicURL != ""
}
