package archive

import "time"

// Config configures the S3 archiver. An empty Bucket disables archiving.
type Config struct {
	Bucket         string        `env:"ARCHIVE_S3_BUCKET"`
	Region         string        `env:"ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	Prefix         string        `env:"ARCHIVE_S3_PREFIX" envDefault:"deliveries"`
	AccessKeyID    string        `env:"ARCHIVE_S3_ACCESS_KEY_ID"`
	SecretKey      string        `env:"ARCHIVE_S3_SECRET_KEY"`
	Endpoint       string        `env:"ARCHIVE_S3_ENDPOINT"`
	ForcePathStyle bool          `env:"ARCHIVE_S3_FORCE_PATH_STYLE" envDefault:"false"`
	Compress       bool          `env:"ARCHIVE_S3_COMPRESS" envDefault:"true"`
	UploadTimeout  time.Duration `env:"ARCHIVE_S3_UPLOAD_TIMEOUT" envDefault:"1m"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return c.Bucket != "" }
