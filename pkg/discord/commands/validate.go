package commands

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

var optionTypes = map[string]discordgo.ApplicationCommandOptionType{
	OptionSubcommand:      discordgo.ApplicationCommandOptionSubCommand,
	OptionSubcommandGroup: discordgo.ApplicationCommandOptionSubCommandGroup,
	OptionString:          discordgo.ApplicationCommandOptionString,
	OptionInteger:         discordgo.ApplicationCommandOptionInteger,
	OptionBoolean:         discordgo.ApplicationCommandOptionBoolean,
	OptionUser:            discordgo.ApplicationCommandOptionUser,
	OptionChannel:         discordgo.ApplicationCommandOptionChannel,
	OptionRole:            discordgo.ApplicationCommandOptionRole,
	OptionMentionable:     discordgo.ApplicationCommandOptionMentionable,
	OptionNumber:          discordgo.ApplicationCommandOptionNumber,
	OptionAttachment:      discordgo.ApplicationCommandOptionAttachment,
}

// ValidateAll checks every command and rejects duplicate names. The first
// violation aborts the whole set.
func ValidateAll(specs []CommandSpec) error {
	if len(specs) > MaxCommands {
		return &payload.ValidationError{Field: "commands", Limit: MaxCommands, Actual: len(specs), Reason: "too many items"}
	}
	seen := map[string]int{}
	for i, spec := range specs {
		field := fmt.Sprintf("commands[%d]", i)
		if err := Validate(field, spec); err != nil {
			return err
		}
		key := strings.ToLower(spec.Name)
		if prev, ok := seen[key]; ok {
			return &payload.ValidationError{
				Field:  field + ".name",
				Reason: fmt.Sprintf("duplicate of commands[%d]", prev),
			}
		}
		seen[key] = i
	}
	return nil
}

// Validate checks a single command. field prefixes reported field paths.
func Validate(field string, spec CommandSpec) error {
	if field == "" {
		field = "command"
	}
	if err := checkName(field+".name", spec.Name); err != nil {
		return err
	}
	if err := checkDescription(field+".description", spec.Description); err != nil {
		return err
	}
	return checkOptions(field+".options", spec.Options, 0)
}

func checkName(field, name string) error {
	if !nameRe.MatchString(name) {
		return &payload.ValidationError{Field: field, Reason: "must be 1-32 characters of letters, digits, '-' or '_'"}
	}
	return nil
}

func checkDescription(field, desc string) error {
	n := utf8.RuneCountInString(desc)
	if strings.TrimSpace(desc) == "" {
		return &payload.ValidationError{Field: field, Reason: "required"}
	}
	if n > MaxDescriptionLength {
		return &payload.ValidationError{Field: field, Limit: MaxDescriptionLength, Actual: n, Reason: "too long"}
	}
	return nil
}

// depth 0 is the command itself, 1 a subcommand group, 2 a subcommand of a group.
func checkOptions(field string, opts []OptionSpec, depth int) error {
	seen := map[string]bool{}
	sawOptional := false
	for i, opt := range opts {
		f := fmt.Sprintf("%s[%d]", field, i)
		if err := checkName(f+".name", opt.Name); err != nil {
			return err
		}
		if err := checkDescription(f+".description", opt.Description); err != nil {
			return err
		}
		typ, ok := optionTypes[opt.Type]
		if !ok {
			return &payload.ValidationError{Field: f + ".type", Reason: fmt.Sprintf("unknown option type %q", opt.Type)}
		}
		if seen[opt.Name] {
			return &payload.ValidationError{Field: f + ".name", Reason: "duplicate option name"}
		}
		seen[opt.Name] = true

		switch typ {
		case discordgo.ApplicationCommandOptionSubCommandGroup:
			if depth > 0 {
				return &payload.ValidationError{Field: f + ".type", Reason: "subcommand groups are only allowed at the top level"}
			}
			for j, sub := range opt.Options {
				if sub.Type != OptionSubcommand {
					return &payload.ValidationError{Field: fmt.Sprintf("%s.options[%d].type", f, j), Reason: "subcommand groups may only contain subcommands"}
				}
			}
			if err := checkOptions(f+".options", opt.Options, depth+1); err != nil {
				return err
			}
		case discordgo.ApplicationCommandOptionSubCommand:
			if depth > 1 {
				return &payload.ValidationError{Field: f + ".type", Reason: "subcommands nest at most one group deep"}
			}
			for j, sub := range opt.Options {
				if sub.Type == OptionSubcommand || sub.Type == OptionSubcommandGroup {
					return &payload.ValidationError{Field: fmt.Sprintf("%s.options[%d].type", f, j), Reason: "subcommands cannot contain subcommands"}
				}
			}
			if err := checkOptions(f+".options", opt.Options, 2); err != nil {
				return err
			}
		default:
			if len(opt.Options) > 0 {
				return &payload.ValidationError{Field: f + ".options", Reason: "only subcommands and groups take nested options"}
			}
			if opt.Required && sawOptional {
				return &payload.ValidationError{Field: f + ".required", Reason: "required options must precede optional ones"}
			}
			if !opt.Required {
				sawOptional = true
			}
			if err := checkChoices(f+".choices", typ, opt.Choices); err != nil {
				return err
			}
		}
	}
	if len(opts) > MaxOptions {
		return &payload.ValidationError{Field: field, Limit: MaxOptions, Actual: len(opts), Reason: "too many items"}
	}
	return nil
}

func checkChoices(field string, typ discordgo.ApplicationCommandOptionType, choices []ChoiceSpec) error {
	if len(choices) == 0 {
		return nil
	}
	switch typ {
	case discordgo.ApplicationCommandOptionString, discordgo.ApplicationCommandOptionInteger, discordgo.ApplicationCommandOptionNumber:
	default:
		return &payload.ValidationError{Field: field, Reason: "choices are only allowed on string, integer and number options"}
	}
	for i, c := range choices {
		f := fmt.Sprintf("%s[%d]", field, i)
		if n := utf8.RuneCountInString(c.Name); n == 0 || n > MaxDescriptionLength {
			return &payload.ValidationError{Field: f + ".name", Limit: MaxDescriptionLength, Actual: n, Reason: "must be 1-100 characters"}
		}
		if _, err := choiceValue(typ, c.Value); err != nil {
			return &payload.ValidationError{Field: f + ".value", Reason: err.Error()}
		}
	}
	if len(choices) > MaxChoices {
		return &payload.ValidationError{Field: field, Limit: MaxChoices, Actual: len(choices), Reason: "too many items"}
	}
	return nil
}

// choiceValue normalizes a decoded YAML/JSON value to the option's wire type.
func choiceValue(typ discordgo.ApplicationCommandOptionType, v any) (any, error) {
	switch typ {
	case discordgo.ApplicationCommandOptionString:
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("expected a string, got %T", v)
		}
		return s, nil
	case discordgo.ApplicationCommandOptionInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, errors.Errorf("expected an integer, got %v", n)
			}
			return int64(n), nil
		}
		return nil, errors.Errorf("expected an integer, got %T", v)
	case discordgo.ApplicationCommandOptionNumber:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
		return nil, errors.Errorf("expected a number, got %T", v)
	}
	return nil, errors.New("choices not supported for this option type")
}

// ToApplicationCommands converts validated specs into wire definitions.
func ToApplicationCommands(specs []CommandSpec) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, spec := range specs {
		out = append(out, &discordgo.ApplicationCommand{
			Type:        discordgo.ChatApplicationCommand,
			Name:        spec.Name,
			Description: spec.Description,
			Options:     toOptions(spec.Options),
		})
	}
	return out
}

func toOptions(opts []OptionSpec) []*discordgo.ApplicationCommandOption {
	if len(opts) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOption, 0, len(opts))
	for _, opt := range opts {
		typ := optionTypes[opt.Type]
		o := &discordgo.ApplicationCommandOption{
			Type:        typ,
			Name:        opt.Name,
			Description: opt.Description,
			Required:    opt.Required,
			Options:     toOptions(opt.Options),
		}
		for _, c := range opt.Choices {
			v, err := choiceValue(typ, c.Value)
			if err != nil {
				continue
			}
			o.Choices = append(o.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: v})
		}
		out = append(out, o)
	}
	return out
}
