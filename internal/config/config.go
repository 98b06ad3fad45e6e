package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig
	Telegram TelegramConfig
	Panel    PanelConfig
	Checkout CheckoutConfig
	Admin    AdminConfig
	Gateways GatewaysConfig
}

type ServerConfig struct {
	Port    int
	Env     string // "development", "production"
	BaseURL string // public URL used to build webhook/return links
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type SMTPConfig struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

type TelegramConfig struct {
	BotToken      string
	ReportChannel string
}

// PanelConfig points at the IPTV middleware panel used for provisioning.
type PanelConfig struct {
	BaseURL string
	APIKey  string
}

type CheckoutConfig struct {
	PendingTTL      time.Duration // pending orders older than this are expired
	MinDepositCents int64
	OTPTTL          time.Duration
	OTPMaxAttempts  int
}

type AdminConfig struct {
	APIKey string
}

type GatewaysConfig struct {
	Cryptomus   CryptomusConfig
	NOWPayments NOWPaymentsConfig
	Plisio      PlisioConfig
	Volet       VoletConfig
	Stripe      StripeConfig
	HoodPay     HoodPayConfig
}

type CryptomusConfig struct {
	MerchantID string
	APIKey     string
}

type NOWPaymentsConfig struct {
	APIKey    string
	IPNSecret string
}

type PlisioConfig struct {
	APIKey string
}

type VoletConfig struct {
	SCIName  string
	Account  string
	Secret   string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type HoodPayConfig struct {
	BusinessID    string
	APIKey        string
	WebhookSecret string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("APP_BASE_URL", "http://localhost:8080")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("SMTP_PORT", "587")
	viper.SetDefault("ORDER_PENDING_TTL", "24h")
	viper.SetDefault("MIN_DEPOSIT_CENTS", 500)
	viper.SetDefault("OTP_TTL", "10m")
	viper.SetDefault("OTP_MAX_ATTEMPTS", 5)

	pendingTTL, err := time.ParseDuration(viper.GetString("ORDER_PENDING_TTL"))
	if err != nil {
		pendingTTL = 24 * time.Hour
	}
	otpTTL, err := time.ParseDuration(viper.GetString("OTP_TTL"))
	if err != nil {
		otpTTL = 10 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:    viper.GetInt("APP_PORT"),
			Env:     viper.GetString("APP_ENV"),
			BaseURL: viper.GetString("APP_BASE_URL"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		SMTP: SMTPConfig{
			Host: viper.GetString("SMTP_HOST"),
			Port: viper.GetString("SMTP_PORT"),
			User: viper.GetString("SMTP_USER"),
			Pass: viper.GetString("SMTP_PASS"),
			From: viper.GetString("SMTP_FROM"),
		},
		Telegram: TelegramConfig{
			BotToken:      viper.GetString("TG_BOT_TOKEN"),
			ReportChannel: viper.GetString("TG_REPORT_CHANNEL"),
		},
		Panel: PanelConfig{
			BaseURL: viper.GetString("PANEL_BASE_URL"),
			APIKey:  viper.GetString("PANEL_API_KEY"),
		},
		Checkout: CheckoutConfig{
			PendingTTL:      pendingTTL,
			MinDepositCents: viper.GetInt64("MIN_DEPOSIT_CENTS"),
			OTPTTL:          otpTTL,
			OTPMaxAttempts:  viper.GetInt("OTP_MAX_ATTEMPTS"),
		},
		Admin: AdminConfig{
			APIKey: viper.GetString("ADMIN_API_KEY"),
		},
		Gateways: GatewaysConfig{
			Cryptomus: CryptomusConfig{
				MerchantID: viper.GetString("CRYPTOMUS_MERCHANT_ID"),
				APIKey:     viper.GetString("CRYPTOMUS_API_KEY"),
			},
			NOWPayments: NOWPaymentsConfig{
				APIKey:    viper.GetString("NOWPAYMENTS_API_KEY"),
				IPNSecret: viper.GetString("NOWPAYMENTS_IPN_SECRET"),
			},
			Plisio: PlisioConfig{
				APIKey: viper.GetString("PLISIO_API_KEY"),
			},
			Volet: VoletConfig{
				SCIName: viper.GetString("VOLET_SCI_NAME"),
				Account: viper.GetString("VOLET_ACCOUNT"),
				Secret:  viper.GetString("VOLET_SECRET"),
			},
			Stripe: StripeConfig{
				SecretKey:     viper.GetString("STRIPE_SECRET_KEY"),
				WebhookSecret: viper.GetString("STRIPE_WEBHOOK_SECRET"),
			},
			HoodPay: HoodPayConfig{
				BusinessID:    viper.GetString("HOODPAY_BUSINESS_ID"),
				APIKey:        viper.GetString("HOODPAY_API_KEY"),
				WebhookSecret: viper.GetString("HOODPAY_WEBHOOK_SECRET"),
			},
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.Admin.APIKey == "" {
		log.Println("WARNING: ADMIN_API_KEY is not set; admin API is disabled")
	}

	return cfg, nil
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
