package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestRunMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")
	var out bytes.Buffer

	err := run(context.Background(), []string{"medicine-bot", "--log-format", "json", "migrate", "--storage", "sqlite", "--sqlite-path", path}, &out)
	gt.NoError(t, err).Required()

	s, err := NewSQLiteStorage(context.Background(), path)
	gt.NoError(t, err).Required()
	defer s.Close()

	st, err := s.Stats(context.Background())
	gt.NoError(t, err).Required()
	gt.Value(t, st.TotalMedicines).Equal(0)
}

func TestRunServeRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	var out bytes.Buffer

	err := run(context.Background(), []string{"medicine-bot", "serve", "--storage", "memory"}, &out)
	gt.Error(t, err).Is(ErrInvalidConfig)
}

func TestRunUnknownStorage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"medicine-bot", "migrate", "--storage", "redis"}, &out)
	gt.Error(t, err).Is(ErrInvalidConfig)
}
