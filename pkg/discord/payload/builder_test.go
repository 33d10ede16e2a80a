package payload

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

func buttons(n int) []ButtonSpec {
	out := make([]ButtonSpec, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ButtonSpec{Label: fmt.Sprintf("b%d", i), CustomID: fmt.Sprintf("id:%d", i)})
	}
	return out
}

func requireValidation(t *testing.T, err error, field string) *ValidationError {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %T", err)
	require.Equal(t, field, ve.Field)
	return ve
}

func TestBuild_ContentTooLong(t *testing.T) {
	_, err := Build(MessageSpec{Content: strings.Repeat("a", MaxContentLength+1)})
	ve := requireValidation(t, err, "content")
	require.Equal(t, MaxContentLength, ve.Limit)
	require.Equal(t, MaxContentLength+1, ve.Actual)

	msg, err := Build(MessageSpec{Content: strings.Repeat("é", MaxContentLength)})
	require.NoError(t, err)
	require.Equal(t, MaxContentLength, len([]rune(msg.Content)))
}

func TestBuild_RequiresContentOrEmbed(t *testing.T) {
	_, err := Build(MessageSpec{Buttons: buttons(1)})
	requireValidation(t, err, "content")

	_, err = Build(MessageSpec{Embeds: []EmbedSpec{{Title: "t"}}})
	require.NoError(t, err)
}

func TestBuild_PacksSixButtonsIntoTwoRows(t *testing.T) {
	msg, err := Build(MessageSpec{Content: "hi", Buttons: buttons(6)})
	require.NoError(t, err)
	require.Len(t, msg.Components, 2)

	first, ok := msg.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, first.Components, 5)
	second, ok := msg.Components[1].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, second.Components, 1)
	require.Equal(t, "id:5", second.Components[0].(discordgo.Button).CustomID)
}

func TestBuild_TwentyFiveButtonsFillFiveRows(t *testing.T) {
	msg, err := Build(MessageSpec{Content: "hi", Buttons: buttons(25)})
	require.NoError(t, err)
	require.Len(t, msg.Components, 5)

	_, err = Build(MessageSpec{Content: "hi", Buttons: buttons(26)})
	ve := requireValidation(t, err, "buttons")
	require.Equal(t, 26, ve.Actual)
}

func TestBuild_LinkButtonRules(t *testing.T) {
	_, err := Build(MessageSpec{Content: "hi", Buttons: []ButtonSpec{
		{Label: "docs", Style: ButtonStyleLink, URL: "https://example.com", CustomID: "x"},
	}})
	requireValidation(t, err, "buttons[0].customId")

	_, err = Build(MessageSpec{Content: "hi", Buttons: []ButtonSpec{
		{Label: "docs", Style: ButtonStyleLink},
	}})
	requireValidation(t, err, "buttons[0].url")

	_, err = Build(MessageSpec{Content: "hi", Buttons: []ButtonSpec{
		{Label: "go", Style: ButtonStyleDanger, CustomID: "x", URL: "https://example.com"},
	}})
	requireValidation(t, err, "buttons[0].url")

	msg, err := Build(MessageSpec{Content: "hi", Buttons: []ButtonSpec{
		{Label: "docs", Style: ButtonStyleLink, URL: "https://example.com", Emoji: "<:wave:123456789012345678>"},
	}})
	require.NoError(t, err)
	btn := msg.Components[0].(discordgo.ActionsRow).Components[0].(discordgo.Button)
	require.Equal(t, discordgo.LinkButton, btn.Style)
	require.Empty(t, btn.CustomID)
	require.Equal(t, "wave", btn.Emoji.Name)
	require.Equal(t, "123456789012345678", btn.Emoji.ID)
}

func TestBuild_UnknownStyleAndMissingCustomID(t *testing.T) {
	_, err := Build(MessageSpec{Content: "hi", Buttons: []ButtonSpec{{Label: "x", Style: "blurple", CustomID: "a"}}})
	requireValidation(t, err, "buttons[0].style")

	_, err = Build(MessageSpec{Content: "hi", Buttons: []ButtonSpec{{Label: "x"}}})
	requireValidation(t, err, "buttons[0].customId")
}

func TestBuild_ColorOutOfRangeIsRejected(t *testing.T) {
	_, err := Build(MessageSpec{Embeds: []EmbedSpec{{Title: "t", Color: MaxEmbedColor + 1}}})
	requireValidation(t, err, "embeds[0].color")

	_, err = Build(MessageSpec{Embeds: []EmbedSpec{{Title: "t", Color: -1}}})
	requireValidation(t, err, "embeds[0].color")

	msg, err := Build(MessageSpec{Embeds: []EmbedSpec{{Title: "t", Color: MaxEmbedColor}}})
	require.NoError(t, err)
	require.Equal(t, MaxEmbedColor, msg.Embeds[0].Color)
}

func TestBuild_FirstViolationInDocumentOrder(t *testing.T) {
	spec := MessageSpec{
		Embeds: []EmbedSpec{
			{Title: "ok"},
			{Title: strings.Repeat("t", MaxEmbedTitle+1), Color: -5},
		},
		Buttons: []ButtonSpec{{Label: "x"}},
	}
	_, err := Build(spec)
	requireValidation(t, err, "embeds[1].title")
}

func TestBuild_FieldChecksRunBeforeAggregates(t *testing.T) {
	embeds := make([]EmbedSpec, MaxEmbeds+1)
	for i := range embeds {
		embeds[i] = EmbedSpec{Title: "t"}
	}
	embeds[MaxEmbeds].Fields = []FieldSpec{{Name: "n"}}

	_, err := Build(MessageSpec{Embeds: embeds})
	requireValidation(t, err, "embeds[10].fields[0].value")

	embeds[MaxEmbeds].Fields = nil
	_, err = Build(MessageSpec{Embeds: embeds})
	requireValidation(t, err, "embeds")
}

func TestBuild_TotalEmbedText(t *testing.T) {
	embeds := []EmbedSpec{
		{Description: strings.Repeat("a", MaxEmbedDescription)},
		{Description: strings.Repeat("b", MaxEmbedDescription)},
	}
	_, err := Build(MessageSpec{Embeds: embeds})
	ve := requireValidation(t, err, "embeds")
	require.Equal(t, MaxEmbedTotalText, ve.Limit)
}

func TestBuild_Timestamps(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := Builder{Now: func() time.Time { return fixed }}

	msg, err := b.Build(MessageSpec{Embeds: []EmbedSpec{
		{Title: "a", Timestamp: TimestampNow},
		{Title: "b", Timestamp: "2025-01-02T03:04:05+01:00"},
		{Title: "c"},
	}})
	require.NoError(t, err)
	require.Equal(t, "2026-03-01T12:00:00Z", msg.Embeds[0].Timestamp)
	require.Equal(t, "2025-01-02T02:04:05Z", msg.Embeds[1].Timestamp)
	require.Empty(t, msg.Embeds[2].Timestamp)

	_, err = b.Build(MessageSpec{Embeds: []EmbedSpec{{Title: "a", Timestamp: "yesterday"}}})
	requireValidation(t, err, "embeds[0].timestamp")
}

func TestBuild_AssemblesEmbed(t *testing.T) {
	msg, err := Build(MessageSpec{Embeds: []EmbedSpec{{
		Title:     "Usage",
		Color:     0x5865F2,
		Fields:    []FieldSpec{{Name: "calls", Value: "12", Inline: true}},
		Footer:    &FooterSpec{Text: "footer"},
		Author:    &AuthorSpec{Name: "bot"},
		Thumbnail: "https://example.com/t.png",
		Image:     "https://example.com/i.png",
	}}})
	require.NoError(t, err)
	e := msg.Embeds[0]
	require.Equal(t, "Usage", e.Title)
	require.Equal(t, discordgo.EmbedTypeRich, e.Type)
	require.Len(t, e.Fields, 1)
	require.True(t, e.Fields[0].Inline)
	require.Equal(t, "footer", e.Footer.Text)
	require.Equal(t, "bot", e.Author.Name)
	require.Equal(t, "https://example.com/t.png", e.Thumbnail.URL)
	require.Equal(t, "https://example.com/i.png", e.Image.URL)
}

func TestValidateSnowflake(t *testing.T) {
	for _, ok := range []string{"12345678901234567", "123456789012345678", "1234567890123456789"} {
		require.NoError(t, ValidateSnowflake("targetId", ok), ok)
	}
	for _, bad := range []string{"", "1234567890123456", "12345678901234567890", "12345678901234567a", " 12345678901234567", "-12345678901234567"} {
		err := ValidateSnowflake("targetId", bad)
		requireValidation(t, err, "targetId")
	}
}
