package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration.
type Config struct {
	StoreDriver          string
	DatabaseURL          string
	MigrationsDir        string
	ServerAddr           string
	LogLevel             string
	SessionTTL           time.Duration
	SessionCookieName    string
	SessionCookieSecure  bool
	AuditSigningKey      []byte
	RedisAddr            string
	ExpirySchedule       string
	ExpiryBatchSize      int
	RequestLockTimeout   time.Duration
	SchedulerLockTimeout time.Duration
	Policy               Policy
}

// Policy holds the lifecycle limits. Zero-valued fields in a policy file keep
// their defaults.
type Policy struct {
	ReservationWindow     time.Duration `yaml:"reservation_window"`
	OTPTTL                time.Duration `yaml:"otp_ttl"`
	CounterResponseWindow time.Duration `yaml:"counter_response_window"`
	MaxCounterRounds      int           `yaml:"max_counter_rounds"`
	MaxReapplications     int           `yaml:"max_reapplications"`
	GeofenceRadiusMeters  float64       `yaml:"geofence_radius_meters"`
	MinCompleteness       int           `yaml:"min_completeness"`
	MaxOTPAttempts        int           `yaml:"max_otp_attempts"`
}

func DefaultPolicy() Policy {
	return Policy{
		ReservationWindow:     72 * time.Hour,
		OTPTTL:                10 * time.Minute,
		CounterResponseWindow: 48 * time.Hour,
		MaxCounterRounds:      5,
		MaxReapplications:     3,
		GeofenceRadiusMeters:  250,
		MinCompleteness:       100,
		MaxOTPAttempts:        5,
	}
}

// Load reads configuration from a .env file, if present, and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "nestfind")
		pass := getenv("POSTGRES_PASSWORD", "nestfind")
		db := getenv("POSTGRES_DB", "nestfind")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	var signingKey []byte
	if raw := os.Getenv("AUDIT_SIGNING_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("AUDIT_SIGNING_KEY must be hex: %w", err)
		}
		signingKey = key
	}

	driver := getenv("STORE_DRIVER", "postgres")
	if driver != "postgres" && driver != "memory" {
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", driver)
	}

	policy, err := loadPolicy(os.Getenv("POLICY_FILE"))
	if err != nil {
		return nil, err
	}

	return &Config{
		StoreDriver:          driver,
		DatabaseURL:          dsn,
		MigrationsDir:        getenv("MIGRATIONS_DIR", "migrations"),
		ServerAddr:           getenv("SERVER_ADDR", "0.0.0.0:8080"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		SessionTTL:           parseDuration(getenv("SESSION_TTL", "24h"), 24*time.Hour),
		SessionCookieName:    getenv("SESSION_COOKIE_NAME", "nestfind_session"),
		SessionCookieSecure:  parseBool(getenv("SESSION_COOKIE_SECURE", "false"), false),
		AuditSigningKey:      signingKey,
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		ExpirySchedule:       getenv("EXPIRY_SCHEDULE", "@every 15s"),
		ExpiryBatchSize:      parseInt(os.Getenv("EXPIRY_BATCH_SIZE"), 100),
		RequestLockTimeout:   parseDuration(os.Getenv("REQUEST_LOCK_TIMEOUT"), 3*time.Second),
		SchedulerLockTimeout: parseDuration(os.Getenv("SCHEDULER_LOCK_TIMEOUT"), 500*time.Millisecond),
		Policy:               policy,
	}, nil
}

// loadPolicy layers defaults, the optional YAML file and POLICY_* overrides.
func loadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, fmt.Errorf("read policy file: %w", err)
		}
		var file Policy
		if err := yaml.Unmarshal(data, &file); err != nil {
			return p, fmt.Errorf("parse policy file %s: %w", path, err)
		}
		p.merge(file)
	}

	p.ReservationWindow = parseDuration(os.Getenv("POLICY_RESERVATION_WINDOW"), p.ReservationWindow)
	p.OTPTTL = parseDuration(os.Getenv("POLICY_OTP_TTL"), p.OTPTTL)
	p.CounterResponseWindow = parseDuration(os.Getenv("POLICY_COUNTER_RESPONSE_WINDOW"), p.CounterResponseWindow)
	p.MaxCounterRounds = parseInt(os.Getenv("POLICY_MAX_COUNTER_ROUNDS"), p.MaxCounterRounds)
	p.MaxReapplications = parseInt(os.Getenv("POLICY_MAX_REAPPLICATIONS"), p.MaxReapplications)
	p.GeofenceRadiusMeters = parseFloat(os.Getenv("POLICY_GEOFENCE_RADIUS_METERS"), p.GeofenceRadiusMeters)
	p.MinCompleteness = parseInt(os.Getenv("POLICY_MIN_COMPLETENESS"), p.MinCompleteness)
	p.MaxOTPAttempts = parseInt(os.Getenv("POLICY_MAX_OTP_ATTEMPTS"), p.MaxOTPAttempts)
	return p, p.Validate()
}

func (p *Policy) merge(o Policy) {
	if o.ReservationWindow > 0 {
		p.ReservationWindow = o.ReservationWindow
	}
	if o.OTPTTL > 0 {
		p.OTPTTL = o.OTPTTL
	}
	if o.CounterResponseWindow > 0 {
		p.CounterResponseWindow = o.CounterResponseWindow
	}
	if o.MaxCounterRounds > 0 {
		p.MaxCounterRounds = o.MaxCounterRounds
	}
	if o.MaxReapplications > 0 {
		p.MaxReapplications = o.MaxReapplications
	}
	if o.GeofenceRadiusMeters > 0 {
		p.GeofenceRadiusMeters = o.GeofenceRadiusMeters
	}
	if o.MinCompleteness > 0 {
		p.MinCompleteness = o.MinCompleteness
	}
	if o.MaxOTPAttempts > 0 {
		p.MaxOTPAttempts = o.MaxOTPAttempts
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.ReservationWindow <= 0 || p.OTPTTL <= 0 || p.CounterResponseWindow <= 0 {
		errs = append(errs, errors.New("policy windows must be positive"))
	}
	if p.MaxCounterRounds < 1 {
		errs = append(errs, errors.New("max_counter_rounds must be at least 1"))
	}
	if p.MaxReapplications < 0 {
		errs = append(errs, errors.New("max_reapplications must not be negative"))
	}
	if p.GeofenceRadiusMeters <= 0 {
		errs = append(errs, errors.New("geofence_radius_meters must be positive"))
	}
	if p.MinCompleteness < 0 || p.MinCompleteness > 100 {
		errs = append(errs, errors.New("min_completeness must be within 0..100"))
	}
	if p.MaxOTPAttempts < 1 {
		errs = append(errs, errors.New("max_otp_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}
