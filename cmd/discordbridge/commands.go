package main

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/discordbridge/pkg/config"
	"github.com/go-go-golems/discordbridge/pkg/discord/commands"
	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
	"github.com/go-go-golems/discordbridge/pkg/discord/retry"
)

func newCommandsCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Validate and publish slash command definitions",
	}
	validate, err := NewCommandsValidateCommand()
	if err != nil {
		return nil, err
	}
	register, err := NewCommandsRegisterCommand()
	if err != nil {
		return nil, err
	}
	for _, c := range []cmds.GlazeCommand{validate, register} {
		cobraCmd, err := cli.BuildCobraCommand(c)
		if err != nil {
			return nil, err
		}
		cmd.AddCommand(cobraCmd)
	}
	return cmd, nil
}

type CommandsValidateCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*CommandsValidateCommand)(nil)

type CommandsValidateSettings struct {
	File string `glazed:"file"`
}

func NewCommandsValidateCommand() (*CommandsValidateCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "create glazed section")
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, errors.Wrap(err, "create command settings section")
	}
	desc := cmds.NewCommandDescription(
		"validate",
		cmds.WithShort("Check a YAML command file against the platform limits without connecting"),
		cmds.WithArguments(
			fields.New("file", fields.TypeString,
				fields.WithHelp("YAML command file"),
				fields.WithRequired(true)),
		),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)
	return &CommandsValidateCommand{CommandDescription: desc}, nil
}

func (c *CommandsValidateCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &CommandsValidateSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode validate settings")
	}
	specs, err := loadCommandsFile(s.File)
	if err != nil {
		return err
	}
	for _, row := range specRows(specs) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func specRows(specs []commands.CommandSpec) []types.Row {
	rows := make([]types.Row, 0, len(specs))
	for _, s := range specs {
		opts := make([]string, 0, len(s.Options))
		for _, o := range s.Options {
			opts = append(opts, o.Name)
		}
		rows = append(rows, types.NewRow(
			types.MRP("name", s.Name),
			types.MRP("description", s.Description),
			types.MRP("options", strings.Join(opts, ",")),
		))
	}
	return rows
}

type CommandsRegisterCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*CommandsRegisterCommand)(nil)

type CommandsRegisterSettings struct {
	File      string `glazed:"file"`
	Scope     string `glazed:"scope"`
	StorePath string `glazed:"store-path"`
}

func NewCommandsRegisterCommand() (*CommandsRegisterCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "create glazed section")
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, errors.Wrap(err, "create command settings section")
	}
	desc := cmds.NewCommandDescription(
		"register",
		cmds.WithShort("Connect, replace the scope's commands with FILE, and exit"),
		cmds.WithArguments(
			fields.New("file", fields.TypeString,
				fields.WithHelp("YAML command file"),
				fields.WithRequired(true)),
		),
		cmds.WithFlags(
			fields.New("scope", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Guild id to publish to; empty uses DISCORD_DEFAULT_GUILD_ID or publishes globally")),
			fields.New("store-path", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("SQLite file recording the published set (default DISCORDBRIDGE_STORE_PATH)")),
		),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)
	return &CommandsRegisterCommand{CommandDescription: desc}, nil
}

func (c *CommandsRegisterCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &CommandsRegisterSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode register settings")
	}
	specs, err := loadCommandsFile(s.File)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	scope := s.Scope
	if scope == "" {
		scope = cfg.Discord.DefaultGuildID
	}
	if scope != "" {
		if err := payload.ValidateSnowflake("scope", scope); err != nil {
			return err
		}
	}
	storePath := s.StorePath
	if storePath == "" {
		storePath = cfg.Server.StorePath
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	engine := retry.New(cfg.Discord.RetryConfig())
	defer engine.Close()
	store, err := openCommandStore(storePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stack, err := newDiscordStack(cfg, engine, stackOptions{store: store})
	if err != nil {
		return err
	}
	defer func() { _ = stack.manager.Shutdown() }()

	if err := stack.manager.Start(ctx); err != nil {
		return err
	}
	if err := stack.manager.WaitReady(ctx); err != nil {
		return err
	}
	published, err := stack.registrar.Register(ctx, specs, scope)
	if err != nil {
		return err
	}
	for _, p := range published {
		row := types.NewRow(
			types.MRP("id", p.ID),
			types.MRP("name", p.Name),
			types.MRP("scope", p.Scope),
			types.MRP("version", p.Version),
			types.MRP("published_at", p.PublishedAt),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
