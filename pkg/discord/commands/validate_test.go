package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
)

func requireField(t *testing.T, err error, field string) {
	t.Helper()
	var ve *payload.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	require.Equal(t, field, ve.Field)
}

func TestValidate_Names(t *testing.T) {
	require.NoError(t, Validate("", CommandSpec{Name: "counter_2-x", Description: "ok"}))
	requireField(t, Validate("", CommandSpec{Name: "", Description: "ok"}), "command.name")
	requireField(t, Validate("", CommandSpec{Name: strings.Repeat("a", 33), Description: "ok"}), "command.name")
	requireField(t, Validate("", CommandSpec{Name: "has space", Description: "ok"}), "command.name")
	requireField(t, Validate("", CommandSpec{Name: "ok", Description: ""}), "command.description")
	requireField(t, Validate("", CommandSpec{Name: "ok", Description: strings.Repeat("d", 101)}), "command.description")
}

func TestValidateAll_Duplicates(t *testing.T) {
	err := ValidateAll([]CommandSpec{
		{Name: "ping", Description: "a"},
		{Name: "PING", Description: "b"},
	})
	requireField(t, err, "commands[1].name")
}

func TestValidate_Options(t *testing.T) {
	bad := CommandSpec{Name: "c", Description: "d", Options: []OptionSpec{
		{Name: "x", Description: "d", Type: "float"},
	}}
	requireField(t, Validate("", bad), "command.options[0].type")

	order := CommandSpec{Name: "c", Description: "d", Options: []OptionSpec{
		{Name: "a", Description: "d", Type: OptionString},
		{Name: "b", Description: "d", Type: OptionString, Required: true},
	}}
	requireField(t, Validate("", order), "command.options[1].required")

	nested := CommandSpec{Name: "c", Description: "d", Options: []OptionSpec{
		{Name: "a", Description: "d", Type: OptionString, Options: []OptionSpec{{Name: "b", Description: "d", Type: OptionString}}},
	}}
	requireField(t, Validate("", nested), "command.options[0].options")

	group := CommandSpec{Name: "c", Description: "d", Options: []OptionSpec{
		{Name: "g", Description: "d", Type: OptionSubcommandGroup, Options: []OptionSpec{
			{Name: "s", Description: "d", Type: OptionSubcommand, Options: []OptionSpec{
				{Name: "n", Description: "d", Type: OptionInteger, Required: true},
			}},
		}},
	}}
	require.NoError(t, Validate("", group))

	var many []OptionSpec
	for i := 0; i < 26; i++ {
		many = append(many, OptionSpec{Name: "o" + strings.Repeat("x", i%5) + string(rune('a'+i%26)), Description: "d", Type: OptionBoolean})
	}
	requireField(t, Validate("", CommandSpec{Name: "c", Description: "d", Options: many}), "command.options")
}

func TestValidate_Choices(t *testing.T) {
	ok := CommandSpec{Name: "c", Description: "d", Options: []OptionSpec{
		{Name: "n", Description: "d", Type: OptionInteger, Choices: []ChoiceSpec{{Name: "one", Value: 1}, {Name: "two", Value: 2.0}}},
	}}
	require.NoError(t, Validate("", ok))

	wrong := CommandSpec{Name: "c", Description: "d", Options: []OptionSpec{
		{Name: "n", Description: "d", Type: OptionInteger, Choices: []ChoiceSpec{{Name: "half", Value: 0.5}}},
	}}
	requireField(t, Validate("", wrong), "command.options[0].choices[0].value")

	onBool := CommandSpec{Name: "c", Description: "d", Options: []OptionSpec{
		{Name: "b", Description: "d", Type: OptionBoolean, Choices: []ChoiceSpec{{Name: "yes", Value: true}}},
	}}
	requireField(t, Validate("", onBool), "command.options[0].choices")
}

func TestToApplicationCommands(t *testing.T) {
	out := ToApplicationCommands([]CommandSpec{{
		Name: "counter", Description: "Post a counter", Options: []OptionSpec{
			{Name: "start", Description: "Initial", Type: OptionInteger, Required: true, Choices: []ChoiceSpec{{Name: "ten", Value: 10}}},
		},
	}})
	require.Len(t, out, 1)
	require.Equal(t, discordgo.ChatApplicationCommand, out[0].Type)
	require.Len(t, out[0].Options, 1)
	opt := out[0].Options[0]
	require.Equal(t, discordgo.ApplicationCommandOptionInteger, opt.Type)
	require.True(t, opt.Required)
	require.Equal(t, int64(10), opt.Choices[0].Value)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
commands:
  - name: counter
    description: Post a counter panel
    options:
      - name: start
        description: Initial value
        type: integer
        choices:
          - name: zero
            value: 0
  - name: status
    description: Show bridge status
`), 0o644))

	specs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "counter", specs[0].Name)
	require.Equal(t, OptionInteger, specs[0].Options[0].Type)

	_, err = Parse([]byte("commands:\n  - name: bad name\n    description: x\n"))
	requireField(t, err, "commands[0].name")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
