package config

import (
	"time"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	RedisURL    string `env:"REDIS_URL"`
	PodName     string `env:"POD_NAME"`
	Namespace   string `env:"NAMESPACE" envDefault:"default"`
}

type MailsyncDatabaseConfig struct {
	Host            string `env:"MAILSYNC_POSTGRES_HOST,required"`
	Port            string `env:"MAILSYNC_POSTGRES_PORT,required"`
	User            string `env:"MAILSYNC_POSTGRES_USER,required"`
	DBName          string `env:"MAILSYNC_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILSYNC_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILSYNC_POSTGRES_DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"MAILSYNC_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"MAILSYNC_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILSYNC_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILSYNC_POSTGRES_SSL_MODE" envDefault:"require"`
}

type GmailConfig struct {
	ClientID           string  `env:"GOOGLE_CLIENT_ID"`
	ClientSecret       string  `env:"GOOGLE_CLIENT_SECRET"`
	PubSubTopic        string  `env:"GMAIL_PUBSUB_TOPIC"`
	PubSubProjectID    string  `env:"GMAIL_PUBSUB_PROJECT_ID"`
	PubSubSubscription string  `env:"GMAIL_PUBSUB_SUBSCRIPTION"`
	PubSubCredentials  string  `env:"GMAIL_PUBSUB_CREDENTIALS_FILE"`
	PubSubPushToken    string  `env:"GMAIL_PUBSUB_PUSH_TOKEN"`
	RequestsPerSecond  float64 `env:"GMAIL_REQUESTS_PER_SECOND" envDefault:"10"`
}

type SyncConfig struct {
	MaxThreads               int           `env:"SYNC_MAX_THREADS" envDefault:"500"`
	ThreadBatchSize          int           `env:"SYNC_THREAD_BATCH_SIZE" envDefault:"50"`
	MessageBatchSize         int           `env:"SYNC_MESSAGE_BATCH_SIZE" envDefault:"50"`
	DefaultRetryAfterSeconds int           `env:"SYNC_DEFAULT_RETRY_AFTER_SECONDS" envDefault:"60"`
	Workers                  int           `env:"SYNC_WORKERS" envDefault:"4"`
	JobLease                 time.Duration `env:"SYNC_JOB_LEASE" envDefault:"30m"`
}

type R2StorageConfig struct {
	AccountID             string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID           string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret       string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	EmailAttachmentBucket string `env:"BUCKET_NAME_EMAIL_ATTACHMENT" envDefault:"attachments"`
	PublicBaseURL         string `env:"ATTACHMENT_PUBLIC_BASE_URL"`
	S3Region              string `env:"ATTACHMENT_S3_REGION"`
}

// Enabled reports whether attachment content can be stored. Without an R2 account id the
// S3 region selects plain AWS S3.
func (c *R2StorageConfig) Enabled() bool {
	return (c.AccountID != "" || c.S3Region != "") && c.AccessKeyID != "" && c.AccessKeySecret != ""
}

// DefaultSyncConfig mirrors the env defaults for callers that build services without
// parsing the environment.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		MaxThreads:               500,
		ThreadBatchSize:          50,
		MessageBatchSize:         50,
		DefaultRetryAfterSeconds: 60,
		Workers:                  4,
		JobLease:                 30 * time.Minute,
	}
}
