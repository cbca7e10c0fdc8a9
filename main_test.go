package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecyb/daynight-tracking/internal/config"
	"github.com/ecyb/daynight-tracking/internal/dispatch"
)

func TestSessionConfigMapsEngineSettings(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	sc := sessionConfig(cfg)
	assert.Equal(t, "default", sc.ProjectID)
	assert.Equal(t, time.Second, sc.Thresholds.RageClickWindow)
	assert.Equal(t, 3*time.Second, sc.Thresholds.ScrollStallAfter)
	assert.Equal(t, 10*time.Second, sc.Thresholds.IdleAfter)
	assert.Equal(t, 20, sc.Thresholds.BacktrackDepth)
	assert.Equal(t, 5, sc.Thresholds.FormChurnLimit)
	assert.Equal(t, []string{"clickable", "btn"}, sc.Thresholds.ClickableClasses)
	assert.Equal(t, 10, sc.FlushSize)
	assert.Equal(t, 4, sc.Dispatch.MaxAttempts)
	assert.Equal(t, time.Second, sc.Dispatch.BaseDelay)
	assert.Equal(t, 30*time.Minute, sc.SessionTTL)
}

func TestNewSinkByTransport(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	sink, cleanup, err := newSink(context.Background(), zap.NewNop(), cfg)
	require.NoError(t, err)
	cleanup()
	assert.IsType(t, &dispatch.HTTPSink{}, sink)

	cfg.Dispatch.Transport = config.TransportNone
	sink, cleanup, err = newSink(context.Background(), zap.NewNop(), cfg)
	require.NoError(t, err)
	cleanup()
	assert.IsType(t, dispatch.NopSink{}, sink)

	cfg.Dispatch.Transport = "carrier-pigeon"
	_, _, err = newSink(context.Background(), zap.NewNop(), cfg)
	assert.Error(t, err)
}

func TestReadEventsSkipsBlankLines(t *testing.T) {
	in := strings.NewReader(`{"type":"click","timestamp":1000}

{"type":"scroll","timestamp":2000}
`)
	events, err := readEvents(in)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "scroll", events[1].Type)

	_, err = readEvents(strings.NewReader("{\"type\":\"click\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReplayPrintsTransitionsAndFinalState(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	// Two dead clicks then four real ones: frustration 10 with six
	// interactions settles in conversion.
	var lines []string
	for i, tag := range []string{"DIV", "DIV", "BUTTON", "BUTTON", "BUTTON", "BUTTON"} {
		lines = append(lines, fmt.Sprintf(`{"type":"click","timestamp":%d,"target":{"tagName":%q}}`,
			1_700_000_000_000+int64(i+1)*2000, tag))
	}

	var (
		mu    sync.Mutex
		kinds []dispatch.Kind
	)
	sink := dispatch.SinkFunc(func(_ context.Context, env dispatch.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, env.Kind)
		return nil
	})

	var out bytes.Buffer
	err = replay(context.Background(), zap.NewNop(), sessionConfig(cfg), sink, strings.NewReader(strings.Join(lines, "\n")), &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "events: 6 read, 6 handled")
	assert.Contains(t, text, "neutral     -> conversion")
	assert.Contains(t, text, "final: conversion intensity=90 frustration=10 interactions=6")
	assert.Contains(t, text, "dead=2")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, dispatch.KindBatch)
	assert.Contains(t, kinds, dispatch.KindFinal)
}
