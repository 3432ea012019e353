// Package testenv gates integration tests behind the environment variables
// needed to talk to a real voice server.
package testenv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/internal/config"
)

const PerseveranceTime = 50 * time.Minute

// Env is the environment used by integration tests.
type Env struct {
	BotToken string
	Discord  config.DiscordConfig
}

var (
	globalEnv Env
	globalErr error
	once      sync.Once
)

// Must returns the integration environment, or skips the test if any of it is
// missing.
func Must(t *testing.T) Env {
	e, err := GetEnv()
	if err != nil {
		t.Skip("integration test variables missing:", err)
	}
	return e
}

func GetEnv() (Env, error) {
	once.Do(getEnv)
	return globalEnv, globalErr
}

func getEnv() {
	cfg, err := config.Load(context.Background())
	if err != nil {
		globalErr = errors.Wrap(err, "failed to load environment")
		return
	}

	if err := cfg.Discord.Validate(); err != nil {
		globalErr = err
		return
	}

	globalEnv = Env{
		BotToken: cfg.Discord.Token,
		Discord:  cfg.Discord,
	}
}
