// Package config loads the command line tool's settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"

	"github.com/voicestream/voicestream/discord"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Discord DiscordConfig
	Voice   VoiceConfig
	Minio   MinioConfig
}

// DiscordConfig holds the bot credentials and the default voice channel.
type DiscordConfig struct {
	Token   string            `env:"BOT_TOKEN"`
	GuildID discord.GuildID   `env:"GUILD_ID"`
	VoiceID discord.ChannelID `env:"VOICE_ID"`
}

// VoiceConfig tunes the voice session.
type VoiceConfig struct {
	HandshakeTimeout  time.Duration `env:"VOICE_HANDSHAKE_TIMEOUT, default=10s"`
	ReconnectAttempts int           `env:"VOICE_RECONNECT_ATTEMPTS, default=5"`
	Bitrate           int           `env:"FFMPEG_BITRATE, default=96"`
}

// MinioConfig points at an object store holding Ogg/Opus files. It is only
// required when objects are played.
type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET, default=voicestream"`
	Secure    bool   `env:"MINIO_SECURE, default=false"`
}

var (
	// ErrMissingToken is returned by Validate if no bot token is set.
	ErrMissingToken = errors.New("missing $BOT_TOKEN")
	// ErrMissingVoiceID is returned by Validate if no voice channel is set.
	ErrMissingVoiceID = errors.New("missing $VOICE_ID")
	// ErrMissingMinio is returned by MinioConfig.Validate.
	ErrMissingMinio = errors.New("missing $MINIO_ENDPOINT, $MINIO_ACCESS_KEY or $MINIO_SECRET_KEY")
)

// Load reads dotenv files (if any exist) into the process environment without
// overriding variables that are already set, then decodes the environment.
func Load(ctx context.Context, dotenv ...string) (*Config, error) {
	if err := loadDotenv(dotenv...); err != nil {
		return nil, err
	}

	return FromLookuper(ctx, envconfig.OsLookuper())
}

// FromLookuper decodes the configuration from the given lookuper.
func FromLookuper(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, errors.Wrap(err, "failed to process environment")
	}

	return &cfg, nil
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	existing := files[:0:0]
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}

	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return errors.Wrap(err, "failed to load dotenv")
	}

	return nil
}

// Validate checks that the settings needed to join a voice channel exist.
func (c DiscordConfig) Validate() error {
	if c.Token == "" {
		return ErrMissingToken
	}
	if !c.VoiceID.IsValid() {
		return ErrMissingVoiceID
	}
	return nil
}

// Validate checks that the object store settings are complete.
func (c MinioConfig) Validate() error {
	if c.Endpoint == "" || c.AccessKey == "" || c.SecretKey == "" {
		return ErrMissingMinio
	}
	return nil
}
