package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Port         int   `mapstructure:"port"`
	MaxUploadMB  int64 `mapstructure:"max_upload_mb"`
	WorkerNodeID int64 `mapstructure:"worker_node_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	OrderEvents        string `mapstructure:"order_events"`
	ExchangeEvents     string `mapstructure:"exchange_events"`
	SubscriptionEvents string `mapstructure:"subscription_events"`
}

// BusinessConfig 业务规则参数
type BusinessConfig struct {
	CommissionRate         string `mapstructure:"commission_rate"`
	ExchangeFeeMXN         string `mapstructure:"exchange_fee_mxn"`
	PremiumPriceMXN        string `mapstructure:"premium_price_mxn"`
	MaxPendingOffers       int    `mapstructure:"max_pending_offers"`
	FreeProductLimit       int    `mapstructure:"free_product_limit"`
	PremiumProductLimit    int    `mapstructure:"premium_product_limit"`
	MaxRetryCount          int    `mapstructure:"max_retry_count"`
	PremiumGraceHours      int    `mapstructure:"premium_grace_hours"`
	Currency               string `mapstructure:"currency"`
	FeaturedProductsLimit  int    `mapstructure:"featured_products_limit"`
	RecentOrdersLimit      int    `mapstructure:"recent_orders_limit"`
	RecentNotificationsMax int    `mapstructure:"recent_notifications_max"`
}

type StripeConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	PremiumPriceID string `mapstructure:"premium_price_id"`
}

type AWSConfig struct {
	Region  string        `mapstructure:"region"`
	S3      S3Config      `mapstructure:"s3"`
	SES     SESConfig     `mapstructure:"ses"`
	SNS     SNSConfig     `mapstructure:"sns"`
	Cognito CognitoConfig `mapstructure:"cognito"`
}

type S3Config struct {
	Bucket string `mapstructure:"bucket"`
}

type SESConfig struct {
	FromEmail string `mapstructure:"from_email"`
}

type SNSConfig struct {
	TopicARN string `mapstructure:"topic_arn"`
}

type CognitoConfig struct {
	UserPoolID string `mapstructure:"user_pool_id"`
	ClientID   string `mapstructure:"client_id"`
}

type AuthConfig struct {
	TokenCacheTTL time.Duration `mapstructure:"token_cache_ttl"`
}

var GlobalConfig *Config

// CommissionRateDecimal 平台佣金比例，默认 10%
func (b BusinessConfig) CommissionRateDecimal() decimal.Decimal {
	return mustDecimal(b.CommissionRate, "0.10")
}

func (b BusinessConfig) ExchangeFee() decimal.Decimal {
	return mustDecimal(b.ExchangeFeeMXN, "90.00")
}

func (b BusinessConfig) PremiumPrice() decimal.Decimal {
	return mustDecimal(b.PremiumPriceMXN, "199.00")
}

func mustDecimal(raw, fallback string) decimal.Decimal {
	if d, err := decimal.NewFromString(raw); err == nil {
		return d
	}
	return decimal.RequireFromString(fallback)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 5)
	v.SetDefault("server.worker_node_id", 1)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("kafka.topic.order_events", "sprout.order.events")
	v.SetDefault("kafka.topic.exchange_events", "sprout.exchange.events")
	v.SetDefault("kafka.topic.subscription_events", "sprout.subscription.events")
	v.SetDefault("business.commission_rate", "0.10")
	v.SetDefault("business.exchange_fee_mxn", "90.00")
	v.SetDefault("business.premium_price_mxn", "199.00")
	v.SetDefault("business.max_pending_offers", 4)
	v.SetDefault("business.free_product_limit", 10)
	v.SetDefault("business.premium_product_limit", 40)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.premium_grace_hours", 24)
	v.SetDefault("business.currency", "mxn")
	v.SetDefault("business.featured_products_limit", 10)
	v.SetDefault("business.recent_orders_limit", 5)
	v.SetDefault("business.recent_notifications_max", 10)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("auth.token_cache_ttl", 5*time.Minute)
}

// Default 返回只包含默认值的配置，测试和本地开发使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig 加载配置文件，环境变量优先（STRIPE_SECRET_KEY -> stripe.secret_key）
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	GlobalConfig = config
	return config, nil
}

// MustLoadConfig 加载配置，失败直接退出
func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}
