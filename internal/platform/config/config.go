package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultBackend             = BackendMemory
	defaultProductsCollection  = "products"
	defaultCartsCollection     = "carts"
	defaultSQLMaxOpenConns     = 10
	defaultRedisKeyPrefix      = "quickorder:"
	defaultEventSink           = EventSinkLog
	defaultPubSubTopic         = "cart-events"
	defaultKafkaTopic          = "cart-events"
	defaultKafkaBatchTimeout   = 50 * time.Millisecond
	defaultSessionCookie       = "QUICKORDER_SESSION"
	defaultSessionMaxAge       = 30 * 24 * time.Hour
	defaultFlashTTL            = 10 * time.Minute
	defaultRatePerMinute       = 60
	defaultRateBurst           = 10
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 10 * time.Minute
	defaultRedirectPath        = "/quick-order"
	defaultMaxItems            = 0
	defaultLocale              = "en"
	defaultEnvironment         = "local"
	defaultSecretFallbackFile  = ".secrets.local"
)

// Storage backends accepted by QUICKORDER_BACKEND.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendSQLite    = "sqlite"
)

// Event sinks accepted by QUICKORDER_EVENTS_SINK.
const (
	EventSinkNone   = "none"
	EventSinkLog    = "log"
	EventSinkPubSub = "pubsub"
	EventSinkKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Backend     string
	Firestore   FirestoreConfig
	SQL         SQLConfig
	Redis       RedisConfig
	Events      EventsConfig
	PubSub      PubSubConfig
	Kafka       KafkaConfig
	Session     SessionConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	QuickOrder  QuickOrderConfig
	Secrets     SecretsConfig
	Security    SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores document store parameters.
type FirestoreConfig struct {
	ProjectID          string
	EmulatorHost       string
	ProductsCollection string
	CartsCollection    string
}

// SQLConfig configures the gorm backed store. DSN is a file path for sqlite.
type SQLConfig struct {
	DSN          string
	MaxOpenConns int
	AutoMigrate  bool
}

// RedisConfig configures the flash message and idempotency stores. An empty Addr keeps both in memory.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// EventsConfig selects where add_to_cart events go.
type EventsConfig struct {
	Sink string
}

// PubSubConfig configures the Google Pub/Sub event sink.
type PubSubConfig struct {
	ProjectID    string
	Topic        string
	EmulatorHost string
}

// KafkaConfig configures the Kafka event sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// SessionConfig controls the signed session cookie and flash retention.
type SessionConfig struct {
	CookieName string
	Secret     string
	MaxAge     time.Duration
	Secure     bool
	FlashTTL   time.Duration
}

// RateLimitConfig controls quick order throttling per client.
type RateLimitConfig struct {
	QuickOrderPerMinute int
	Burst               int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// QuickOrderConfig tunes the batch endpoint.
type QuickOrderConfig struct {
	RedirectPath  string
	MaxItems      int
	DefaultLocale string
}

// SecretsConfig configures the Secret Manager fetcher.
type SecretsConfig struct {
	DefaultProject  string
	FallbackFile    string
	CredentialsFile string
}

// SecurityConfig holds the deployment environment label.
type SecurityConfig struct {
	Environment string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed secret identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

type lookupFunc func(key string) (string, bool)

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Session.Secret") that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the effective environment after applying Load's precedence rules
// (dotenv < OS env < explicit env map). Callers use it to build the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnvValues))
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := lookupFunc(func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	})

	cfg := Config{
		Server: ServerConfig{
			Port:         lookup.str("QUICKORDER_SERVER_PORT", defaultPort),
			ReadTimeout:  lookup.duration("QUICKORDER_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: lookup.duration("QUICKORDER_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  lookup.duration("QUICKORDER_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Backend: strings.ToLower(lookup.str("QUICKORDER_BACKEND", defaultBackend)),
		Firestore: FirestoreConfig{
			ProjectID:          lookup.str("QUICKORDER_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:       lookup.str("QUICKORDER_FIRESTORE_EMULATOR_HOST", ""),
			ProductsCollection: lookup.str("QUICKORDER_FIRESTORE_PRODUCTS_COLLECTION", defaultProductsCollection),
			CartsCollection:    lookup.str("QUICKORDER_FIRESTORE_CARTS_COLLECTION", defaultCartsCollection),
		},
		SQL: SQLConfig{
			DSN:          lookup.str("QUICKORDER_SQL_DSN", ""),
			MaxOpenConns: lookup.integer("QUICKORDER_SQL_MAX_OPEN_CONNS", defaultSQLMaxOpenConns),
			AutoMigrate:  lookup.boolean("QUICKORDER_SQL_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:      lookup.str("QUICKORDER_REDIS_ADDR", ""),
			Password:  lookup.str("QUICKORDER_REDIS_PASSWORD", ""),
			DB:        lookup.integer("QUICKORDER_REDIS_DB", 0),
			KeyPrefix: lookup.str("QUICKORDER_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Events: EventsConfig{
			Sink: strings.ToLower(lookup.str("QUICKORDER_EVENTS_SINK", defaultEventSink)),
		},
		PubSub: PubSubConfig{
			ProjectID:    lookup.str("QUICKORDER_PUBSUB_PROJECT_ID", ""),
			Topic:        lookup.str("QUICKORDER_PUBSUB_TOPIC", defaultPubSubTopic),
			EmulatorHost: lookup.str("QUICKORDER_PUBSUB_EMULATOR_HOST", ""),
		},
		Kafka: KafkaConfig{
			Brokers:      lookup.csv("QUICKORDER_KAFKA_BROKERS"),
			Topic:        lookup.str("QUICKORDER_KAFKA_TOPIC", defaultKafkaTopic),
			BatchTimeout: lookup.duration("QUICKORDER_KAFKA_BATCH_TIMEOUT", defaultKafkaBatchTimeout),
		},
		Session: SessionConfig{
			CookieName: lookup.str("QUICKORDER_SESSION_COOKIE", defaultSessionCookie),
			Secret:     lookup.str("QUICKORDER_SESSION_SECRET", ""),
			MaxAge:     lookup.duration("QUICKORDER_SESSION_MAX_AGE", defaultSessionMaxAge),
			Secure:     lookup.boolean("QUICKORDER_SESSION_SECURE", false),
			FlashTTL:   lookup.duration("QUICKORDER_FLASH_TTL", defaultFlashTTL),
		},
		RateLimits: RateLimitConfig{
			QuickOrderPerMinute: lookup.integer("QUICKORDER_RATELIMIT_PER_MIN", defaultRatePerMinute),
			Burst:               lookup.integer("QUICKORDER_RATELIMIT_BURST", defaultRateBurst),
		},
		Idempotency: IdempotencyConfig{
			Header: lookup.str("QUICKORDER_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    lookup.duration("QUICKORDER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		QuickOrder: QuickOrderConfig{
			RedirectPath:  lookup.str("QUICKORDER_REDIRECT_PATH", defaultRedirectPath),
			MaxItems:      lookup.integer("QUICKORDER_MAX_ITEMS", defaultMaxItems),
			DefaultLocale: strings.ToLower(lookup.str("QUICKORDER_DEFAULT_LOCALE", defaultLocale)),
		},
		Secrets: SecretsConfig{
			DefaultProject:  lookup.str("QUICKORDER_SECRET_DEFAULT_PROJECT_ID", ""),
			FallbackFile:    lookup.str("QUICKORDER_SECRET_FALLBACK_FILE", defaultSecretFallbackFile),
			CredentialsFile: lookup.str("QUICKORDER_GOOGLE_CREDENTIALS_FILE", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(lookup.str("QUICKORDER_ENVIRONMENT", defaultEnvironment)),
		},
	}

	// Pub/Sub and Secret Manager default to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.DefaultProject == "" {
		cfg.Secrets.DefaultProject = cfg.Firestore.ProjectID
	}

	resolver := options.secret
	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Session.Secret", &cfg.Session.Secret},
		{"Redis.Password", &cfg.Redis.Password},
		{"SQL.DSN", &cfg.SQL.DSN},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}

	switch cfg.Backend {
	case BackendMemory:
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
		if cfg.Firestore.ProductsCollection == "" {
			missing = append(missing, "Firestore.ProductsCollection")
		}
		if cfg.Firestore.CartsCollection == "" {
			missing = append(missing, "Firestore.CartsCollection")
		}
	case BackendPostgres, BackendSQLite:
		if strings.TrimSpace(cfg.SQL.DSN) == "" {
			missing = append(missing, "SQL.DSN")
		}
	default:
		missing = append(missing, "Backend")
	}

	switch cfg.Events.Sink {
	case EventSinkNone, EventSinkLog:
	case EventSinkPubSub:
		if cfg.PubSub.ProjectID == "" {
			missing = append(missing, "PubSub.ProjectID")
		}
		if cfg.PubSub.Topic == "" {
			missing = append(missing, "PubSub.Topic")
		}
	case EventSinkKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			missing = append(missing, "Kafka.Brokers")
		}
		if cfg.Kafka.Topic == "" {
			missing = append(missing, "Kafka.Topic")
		}
	default:
		missing = append(missing, "Events.Sink")
	}

	if strings.TrimSpace(cfg.Session.CookieName) == "" {
		missing = append(missing, "Session.CookieName")
	}
	if cfg.Session.MaxAge <= 0 {
		missing = append(missing, "Session.MaxAge")
	}
	if cfg.Session.FlashTTL <= 0 {
		missing = append(missing, "Session.FlashTTL")
	}
	if cfg.RateLimits.QuickOrderPerMinute < 0 {
		missing = append(missing, "RateLimits.QuickOrderPerMinute")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if !strings.HasPrefix(cfg.QuickOrder.RedirectPath, "/") {
		missing = append(missing, "QuickOrder.RedirectPath")
	}
	if cfg.QuickOrder.MaxItems < 0 {
		missing = append(missing, "QuickOrder.MaxItems")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] != "" {
			continue
		}
		missing = append(missing, trimmed)
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func (l lookupFunc) str(key, fallback string) string {
	if value, ok := l(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (l lookupFunc) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := l(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func (l lookupFunc) integer(key string, fallback int) int {
	if value, ok := l(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func (l lookupFunc) boolean(key string, fallback bool) bool {
	if value, ok := l(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func (l lookupFunc) csv(key string) []string {
	raw, ok := l(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
