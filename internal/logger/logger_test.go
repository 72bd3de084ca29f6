package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCtxAttrsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", slog.LevelInfo)

	ctx := Ctx(context.Background(), slog.String("feed_url", "https://a.example/feed.xml"))
	l.InfoContext(ctx, "fetched")

	assert.Contains(t, buf.String(), `"feed_url":"https://a.example/feed.xml"`)
	assert.Contains(t, buf.String(), `"msg":"fetched"`)
}

func TestCtxDoesNotLeakBetweenSiblings(t *testing.T) {
	parent := Ctx(context.Background(), slog.String("run", "1"))
	a := Ctx(parent, slog.String("feed", "a"))
	b := Ctx(parent, slog.String("feed", "b"))

	aAttrs := a.Value(attrKey).([]slog.Attr)
	bAttrs := b.Value(attrKey).([]slog.Attr)
	assert.Equal(t, "a", aAttrs[1].Value.String())
	assert.Equal(t, "b", bAttrs[1].Value.String())
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", slog.LevelWarn)

	l.Info("dropped")
	l.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}
