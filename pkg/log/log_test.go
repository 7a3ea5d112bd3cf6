package log

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCtxDefault(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, Ctx(ctx))
	assert.Equal(t, defaultLogger, Ctx(ctx))
}

func TestCtxWith(t *testing.T) {
	custom := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := With(context.Background(), custom)
	assert.Equal(t, custom, Ctx(ctx))
}
