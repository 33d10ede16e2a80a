package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatermillAdapter(t *testing.T) {
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prevLevel) })
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	l := NewWatermill(zerolog.New(&buf)).With(watermill.LogFields{"topic": "discord.interactions"})
	l.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "publish failed", line["message"])
	require.Equal(t, "discord.interactions", line["topic"])
	require.Equal(t, "watermill", line["component"])
	require.Equal(t, "boom", line["error"])
	require.EqualValues(t, 2, line["attempt"])
}

func TestWatermillAdapter_DebugIsTrace(t *testing.T) {
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prevLevel) })
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	l := NewWatermill(zerolog.New(&buf))
	l.Debug("subscriber ack", nil)
	require.Zero(t, buf.Len())
}
