package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const ServiceName = "storefront-service"

type AppConfig struct {
	Port               string
	GRPCPort           string
	PublicBaseURL      string
	CORSAllowedOrigins []string
	LogLevel           string
}

type StripeConfig struct {
	SecretKey       string
	PublicKey       string
	WebhookSecret   string
	FullPackPriceID string
	ProductName     string
}

type MailConfig struct {
	MailjetAPIKey       string
	MailjetAPISecret    string
	FromEmail           string
	FromName            string
	SMTPHost            string
	SMTPPort            int
	SMTPUser            string
	SMTPPassword        string
	Timeout             time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

func (m MailConfig) MailjetConfigured() bool {
	return m.MailjetAPIKey != "" && m.MailjetAPISecret != "" && m.FromEmail != ""
}

func (m MailConfig) SMTPConfigured() bool {
	return m.SMTPHost != "" && m.FromEmail != ""
}

type CatalogConfig struct {
	Path           string
	StorageBaseURL string
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Broker string
	Topic  string
}

type TracingConfig struct {
	JaegerEndpoint string
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

type FulfillmentConfig struct {
	Dedup    bool
	DedupTTL time.Duration
}

type Config struct {
	App         AppConfig
	Stripe      StripeConfig
	Mail        MailConfig
	Catalog     CatalogConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Tracing     TracingConfig
	RateLimit   RateLimitConfig
	Fulfillment FulfillmentConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8085")
	v.SetDefault("log_level", "info")
	v.SetDefault("product_name", "Spectra Film Loops")
	v.SetDefault("mj_from_name", "Spectra Media")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("mail_timeout", "10s")
	v.SetDefault("mail_breaker_max_failures", 5)
	v.SetDefault("mail_breaker_reset_timeout", "1m")
	v.SetDefault("catalog_path", "loops.json")
	v.SetDefault("kafka_topic", "order_events")
	v.SetDefault("rate_limit_max", 30)
	v.SetDefault("rate_limit_window", "1m")
	v.SetDefault("fulfillment_dedup", false)
	v.SetDefault("fulfillment_dedup_ttl", "72h")
}

// Load reads the named env files into the environment and builds the typed
// configuration from environment variables. With no names it reads .env when
// present; a named file that does not exist is an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	durations := map[string]time.Duration{}
	for _, key := range []string{"mail_timeout", "mail_breaker_reset_timeout", "rate_limit_window", "fulfillment_dedup_ttl"} {
		d, err := getDuration(v, key)
		if err != nil {
			return nil, err
		}
		durations[key] = d
	}
	if durations["mail_timeout"] < minMailTimeout {
		return nil, fmt.Errorf("MAIL_TIMEOUT=%s is below %s", durations["mail_timeout"], minMailTimeout)
	}

	cfg := &Config{
		App: AppConfig{
			Port:               v.GetString("port"),
			GRPCPort:           v.GetString("grpc_port"),
			PublicBaseURL:      strings.TrimRight(v.GetString("public_base_url"), "/"),
			CORSAllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
			LogLevel:           strings.ToLower(v.GetString("log_level")),
		},
		Stripe: StripeConfig{
			SecretKey:       v.GetString("stripe_secret_key"),
			PublicKey:       v.GetString("stripe_public_key"),
			WebhookSecret:   v.GetString("stripe_webhook_secret"),
			FullPackPriceID: v.GetString("full_pack_price_id"),
			ProductName:     v.GetString("product_name"),
		},
		Mail: MailConfig{
			MailjetAPIKey:       v.GetString("mj_api_key"),
			MailjetAPISecret:    v.GetString("mj_api_secret"),
			FromEmail:           v.GetString("mj_from_email"),
			FromName:            v.GetString("mj_from_name"),
			SMTPHost:            v.GetString("smtp_host"),
			SMTPPort:            v.GetInt("smtp_port"),
			SMTPUser:            v.GetString("smtp_user"),
			SMTPPassword:        v.GetString("smtp_password"),
			Timeout:             durations["mail_timeout"],
			BreakerMaxFailures:  v.GetInt("mail_breaker_max_failures"),
			BreakerResetTimeout: durations["mail_breaker_reset_timeout"],
		},
		Catalog: CatalogConfig{
			Path:           v.GetString("catalog_path"),
			StorageBaseURL: v.GetString("cloudflare_base_url"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis_url"),
		},
		Kafka: KafkaConfig{
			Broker: v.GetString("kafka_broker"),
			Topic:  v.GetString("kafka_topic"),
		},
		Tracing: TracingConfig{
			JaegerEndpoint: v.GetString("jaeger_endpoint"),
		},
		RateLimit: RateLimitConfig{
			Max:    v.GetInt("rate_limit_max"),
			Window: durations["rate_limit_window"],
		},
		Fulfillment: FulfillmentConfig{
			Dedup:    v.GetBool("fulfillment_dedup"),
			DedupTTL: durations["fulfillment_dedup_ttl"],
		},
	}

	return cfg, nil
}

// Warnings lists settings whose absence degrades a feature without
// preventing startup.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Stripe.SecretKey == "" {
		warnings = append(warnings, "STRIPE_SECRET_KEY is not set: checkout session creation will fail")
	}
	if c.Stripe.WebhookSecret == "" {
		warnings = append(warnings, "STRIPE_WEBHOOK_SECRET is not set: every payment notification will be rejected")
	}
	if c.Stripe.FullPackPriceID == "" {
		warnings = append(warnings, "FULL_PACK_PRICE_ID is not set: full pack checkout is disabled")
	}
	if !c.Mail.MailjetConfigured() && !c.Mail.SMTPConfigured() {
		warnings = append(warnings, "no email transport configured: download links will not be sent")
	}
	if c.Catalog.StorageBaseURL == "" {
		warnings = append(warnings, "CLOUDFLARE_BASE_URL is not set: download links will be relative")
	}
	if c.Fulfillment.Dedup && c.Redis.URL == "" {
		warnings = append(warnings, "FULFILLMENT_DEDUP is enabled but REDIS_URL is not set: deduplication is off")
	}
	return warnings
}

const minMailTimeout = 100 * time.Millisecond

// getDuration reads a Go duration string. A bare integer counts as seconds,
// so MAIL_TIMEOUT=10 means ten seconds.
func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToUpper(key), raw, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
