package interactions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/discordbridge/pkg/discord/events"
	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
)

// CounterPrefix prefixes counter button ids; the suffix is the value the
// button sets when clicked.
const CounterPrefix = "counter:"

// RegisterBuiltins wires the "status" and "counter" commands and the counter
// buttons. status reports the bridge state for the status command.
func RegisterBuiltins(r *Router, status func() string) {
	r.HandleCommand("status", func(_ context.Context, _ events.Event, reply *Reply) error {
		text := "unknown"
		if status != nil {
			text = status()
		}
		return reply.Message(payload.MessageSpec{Content: "Bridge status: " + text}, true)
	})
	r.HandleCommand("counter", func(_ context.Context, ev events.Event, reply *Reply) error {
		start, err := intOption(ev.Options, "start")
		if err != nil {
			return err
		}
		return reply.Message(CounterPanel(start), false)
	})
	r.HandleComponentPrefix(CounterPrefix, func(_ context.Context, ev events.Event, reply *Reply) error {
		n, err := strconv.ParseInt(strings.TrimPrefix(ev.Key, CounterPrefix), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parse counter id %q", ev.Key)
		}
		return reply.Update(CounterPanel(n))
	})
}

// CounterPanel renders a counter message whose buttons carry the next values.
func CounterPanel(n int64) payload.MessageSpec {
	return payload.MessageSpec{
		Embeds: []payload.EmbedSpec{{
			Title:       "Counter",
			Description: fmt.Sprintf("Current value: **%d**", n),
			Color:       0x5865F2,
		}},
		Buttons: []payload.ButtonSpec{
			{Label: "-1", Style: payload.ButtonStyleSecondary, CustomID: fmt.Sprintf("%s%d", CounterPrefix, n-1)},
			{Label: "+1", Style: payload.ButtonStylePrimary, CustomID: fmt.Sprintf("%s%d", CounterPrefix, n+1)},
			{Label: "Reset", Style: payload.ButtonStyleDanger, CustomID: CounterPrefix + "0", Disabled: n == 0},
		},
	}
}

func intOption(opts map[string]any, name string) (int64, error) {
	v, ok := opts[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, errors.Errorf("option %s: unexpected type %T", name, v)
}
