package commands

import "time"

const (
	MaxNameLength        = 32
	MaxDescriptionLength = 100
	MaxOptions           = 25
	MaxChoices           = 25
	MaxCommands          = 100
)

// Option types accepted in command files.
const (
	OptionSubcommand      = "subcommand"
	OptionSubcommandGroup = "subcommand-group"
	OptionString          = "string"
	OptionInteger         = "integer"
	OptionBoolean         = "boolean"
	OptionUser            = "user"
	OptionChannel         = "channel"
	OptionRole            = "role"
	OptionMentionable     = "mentionable"
	OptionNumber          = "number"
	OptionAttachment      = "attachment"
)

// CommandSpec is one remotely invocable slash command.
type CommandSpec struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Options     []OptionSpec `json:"options,omitempty" yaml:"options,omitempty"`
}

// OptionSpec is a command parameter. Options nests only under subcommands and
// subcommand groups; Choices applies to string, integer and number options.
type OptionSpec struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Type        string       `json:"type" yaml:"type"`
	Required    bool         `json:"required,omitempty" yaml:"required,omitempty"`
	Options     []OptionSpec `json:"options,omitempty" yaml:"options,omitempty"`
	Choices     []ChoiceSpec `json:"choices,omitempty" yaml:"choices,omitempty"`
}

type ChoiceSpec struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value" yaml:"value"`
}

// PublishedCommand is a command as acknowledged by the platform. Scope is the
// guild id, or empty for global commands.
type PublishedCommand struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Scope       string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	PublishedAt time.Time `json:"publishedAt" yaml:"publishedAt"`
}
