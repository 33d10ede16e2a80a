package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/discordbridge/pkg/config"
	"github.com/go-go-golems/discordbridge/pkg/discord/events"
	"github.com/go-go-golems/discordbridge/pkg/redisstream"
)

func newEventsCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect mirrored interaction events",
	}
	tail, err := NewEventsTailCommand()
	if err != nil {
		return nil, err
	}
	cobraTail, err := cli.BuildCobraCommand(tail)
	if err != nil {
		return nil, err
	}
	cmd.AddCommand(cobraTail)
	return cmd, nil
}

type EventsTailCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*EventsTailCommand)(nil)

// NewEventsTailCommand seeds the redis flags from the REDIS_* environment.
func NewEventsTailCommand() (*EventsTailCommand, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	redisSection, err := redisstream.NewSection(redisSettings(cfg.Redis))
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}
	desc := cmds.NewCommandDescription(
		"tail",
		cmds.WithShort("Print interaction events mirrored to Redis Streams as JSON lines"),
		cmds.WithSections(redisSection),
	)
	return &EventsTailCommand{CommandDescription: desc}, nil
}

func (c *EventsTailCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &s); err != nil {
		return errors.Wrap(err, "decode redis settings")
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	client := redisstream.NewClient(s.Addr)
	defer func() { _ = client.Close() }()
	if err := redisstream.Ping(ctx, client); err != nil {
		return err
	}
	if err := redisstream.EnsureGroupAtTail(ctx, client, events.Topic, s.Group); err != nil {
		return err
	}
	sub, err := redisstream.NewSubscriber(client, s)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()
	ch, err := sub.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for msg := range ch {
		ev, err := events.Decode(msg)
		msg.Ack()
		if err != nil {
			log.Warn().Err(err).Str("message_id", msg.UUID).Msg("skipping undecodable event")
			continue
		}
		ev.Token = ""
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
