// Package payload turns abstract message specs into discordgo wire payloads.
//
// Building is pure: a spec either becomes a complete payload or a
// *ValidationError naming the first violated limit. Nothing here talks to the
// network.
package payload

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// Builder converts specs into payloads. The zero value uses time.Now.
type Builder struct {
	Now func() time.Time
}

// Build converts spec with the default Builder.
func Build(spec MessageSpec) (*discordgo.MessageSend, error) {
	return Builder{}.Build(spec)
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build validates spec field by field in document order, then checks
// aggregate limits, and only then assembles the payload.
func (b Builder) Build(spec MessageSpec) (*discordgo.MessageSend, error) {
	if n := runeLen(spec.Content); n > MaxContentLength {
		return nil, tooLong("content", MaxContentLength, n)
	}
	for i := range spec.Embeds {
		if err := validateEmbed(fmt.Sprintf("embeds[%d]", i), spec.Embeds[i]); err != nil {
			return nil, err
		}
	}
	for i := range spec.Buttons {
		if err := validateButton(fmt.Sprintf("buttons[%d]", i), spec.Buttons[i]); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(spec.Content) == "" && len(spec.Embeds) == 0 {
		return nil, invalid("content", "content or at least one embed is required")
	}
	if err := checkEmbedAggregates(spec.Embeds); err != nil {
		return nil, err
	}
	if n := len(spec.Buttons); n > MaxButtons {
		return nil, tooMany("buttons", MaxButtons, n)
	}

	out := &discordgo.MessageSend{Content: spec.Content}
	for _, e := range spec.Embeds {
		embed, err := b.assembleEmbed(e)
		if err != nil {
			return nil, err
		}
		out.Embeds = append(out.Embeds, embed)
	}
	out.Components = packRows(spec.Buttons)
	return out, nil
}

// BuildEmbed validates and assembles a single embed.
func (b Builder) BuildEmbed(spec EmbedSpec) (*discordgo.MessageEmbed, error) {
	if err := validateEmbed("embed", spec); err != nil {
		return nil, err
	}
	if err := checkEmbedAggregates([]EmbedSpec{spec}); err != nil {
		return nil, err
	}
	return b.assembleEmbed(spec)
}

// BuildButtons validates buttons and packs them into action rows.
func BuildButtons(buttons []ButtonSpec) ([]discordgo.MessageComponent, error) {
	for i := range buttons {
		if err := validateButton(fmt.Sprintf("buttons[%d]", i), buttons[i]); err != nil {
			return nil, err
		}
	}
	if n := len(buttons); n > MaxButtons {
		return nil, tooMany("buttons", MaxButtons, n)
	}
	return packRows(buttons), nil
}

func validateEmbed(field string, e EmbedSpec) error {
	if n := runeLen(e.Title); n > MaxEmbedTitle {
		return tooLong(field+".title", MaxEmbedTitle, n)
	}
	if n := runeLen(e.Description); n > MaxEmbedDescription {
		return tooLong(field+".description", MaxEmbedDescription, n)
	}
	if e.Color < 0 || e.Color > MaxEmbedColor {
		return &ValidationError{Field: field + ".color", Limit: MaxEmbedColor, Actual: e.Color, Reason: "out of range"}
	}
	for j, f := range e.Fields {
		name := fmt.Sprintf("%s.fields[%d]", field, j)
		if strings.TrimSpace(f.Name) == "" {
			return invalid(name+".name", "required")
		}
		if n := runeLen(f.Name); n > MaxEmbedFieldName {
			return tooLong(name+".name", MaxEmbedFieldName, n)
		}
		if strings.TrimSpace(f.Value) == "" {
			return invalid(name+".value", "required")
		}
		if n := runeLen(f.Value); n > MaxEmbedFieldValue {
			return tooLong(name+".value", MaxEmbedFieldValue, n)
		}
	}
	if e.Footer != nil {
		if n := runeLen(e.Footer.Text); n > MaxEmbedFooterText {
			return tooLong(field+".footer.text", MaxEmbedFooterText, n)
		}
	}
	if e.Author != nil {
		if n := runeLen(e.Author.Name); n > MaxEmbedAuthorName {
			return tooLong(field+".author.name", MaxEmbedAuthorName, n)
		}
	}
	switch ts := strings.TrimSpace(e.Timestamp); ts {
	case "", TimestampNow:
	default:
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			return invalid(field+".timestamp", `must be "now" or an RFC3339 instant`)
		}
	}
	if isEmptyEmbed(e) {
		return invalid(field, "embed has no content")
	}
	return nil
}

func checkEmbedAggregates(embeds []EmbedSpec) error {
	if n := len(embeds); n > MaxEmbeds {
		return tooMany("embeds", MaxEmbeds, n)
	}
	total := 0
	for i, e := range embeds {
		if n := len(e.Fields); n > MaxEmbedFields {
			return tooMany(fmt.Sprintf("embeds[%d].fields", i), MaxEmbedFields, n)
		}
		total += embedTextLen(e)
	}
	if total > MaxEmbedTotalText {
		return tooLong("embeds", MaxEmbedTotalText, total)
	}
	return nil
}

func validateButton(field string, btn ButtonSpec) error {
	if n := runeLen(btn.Label); n > MaxButtonLabel {
		return tooLong(field+".label", MaxButtonLabel, n)
	}
	if strings.TrimSpace(btn.Label) == "" && strings.TrimSpace(btn.Emoji) == "" {
		return invalid(field+".label", "label or emoji is required")
	}
	style, ok := parseStyle(btn.Style)
	if !ok {
		return invalid(field+".style", fmt.Sprintf("unknown style %q", btn.Style))
	}
	if style == discordgo.LinkButton {
		if btn.CustomID != "" {
			return invalid(field+".customId", "link buttons must not carry a custom id")
		}
		if strings.TrimSpace(btn.URL) == "" {
			return invalid(field+".url", "link buttons require a url")
		}
		return nil
	}
	if btn.URL != "" {
		return invalid(field+".url", "only link buttons may carry a url")
	}
	if strings.TrimSpace(btn.CustomID) == "" {
		return invalid(field+".customId", "required for non-link buttons")
	}
	if n := runeLen(btn.CustomID); n > MaxButtonCustomID {
		return tooLong(field+".customId", MaxButtonCustomID, n)
	}
	return nil
}

func (b Builder) assembleEmbed(e EmbedSpec) (*discordgo.MessageEmbed, error) {
	out := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != nil {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer.Text, IconURL: e.Footer.IconURL}
	}
	if e.Author != nil {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
	}
	if e.Thumbnail != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Image != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.Image}
	}
	switch ts := strings.TrimSpace(e.Timestamp); ts {
	case "":
	case TimestampNow:
		out.Timestamp = b.now().UTC().Format(time.RFC3339)
	default:
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, invalid("timestamp", `must be "now" or an RFC3339 instant`)
		}
		out.Timestamp = t.UTC().Format(time.RFC3339)
	}
	return out, nil
}

// packRows fills rows of MaxButtonsPerRow. Callers have already rejected
// more than MaxButtons buttons, so no sixth row is ever started.
func packRows(buttons []ButtonSpec) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	var rows []discordgo.MessageComponent
	var current discordgo.ActionsRow
	for _, btn := range buttons {
		if len(current.Components) == MaxButtonsPerRow {
			rows = append(rows, current)
			current = discordgo.ActionsRow{}
		}
		current.Components = append(current.Components, toButton(btn))
	}
	if len(current.Components) > 0 {
		rows = append(rows, current)
	}
	return rows
}

func toButton(btn ButtonSpec) discordgo.Button {
	style, _ := parseStyle(btn.Style)
	out := discordgo.Button{
		Label:    btn.Label,
		Style:    style,
		Disabled: btn.Disabled,
	}
	if style == discordgo.LinkButton {
		out.URL = btn.URL
	} else {
		out.CustomID = btn.CustomID
	}
	if emoji := parseEmoji(btn.Emoji); emoji != nil {
		out.Emoji = emoji
	}
	return out
}

func parseStyle(s string) (discordgo.ButtonStyle, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ButtonStylePrimary:
		return discordgo.PrimaryButton, true
	case ButtonStyleSecondary:
		return discordgo.SecondaryButton, true
	case ButtonStyleSuccess:
		return discordgo.SuccessButton, true
	case ButtonStyleDanger:
		return discordgo.DangerButton, true
	case ButtonStyleLink:
		return discordgo.LinkButton, true
	default:
		return 0, false
	}
}

var customEmojiRe = regexp.MustCompile(`^<(a?):([A-Za-z0-9_]+):([0-9]+)>$`)

// parseEmoji accepts a unicode emoji or the <:name:id> custom form.
func parseEmoji(s string) *discordgo.ComponentEmoji {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if m := customEmojiRe.FindStringSubmatch(s); m != nil {
		return &discordgo.ComponentEmoji{Name: m[2], ID: m[3], Animated: m[1] == "a"}
	}
	return &discordgo.ComponentEmoji{Name: s}
}

func isEmptyEmbed(e EmbedSpec) bool {
	return strings.TrimSpace(e.Title) == "" &&
		strings.TrimSpace(e.Description) == "" &&
		len(e.Fields) == 0 &&
		e.Footer == nil &&
		e.Author == nil &&
		e.Thumbnail == "" &&
		e.Image == ""
}

func embedTextLen(e EmbedSpec) int {
	n := runeLen(e.Title) + runeLen(e.Description)
	for _, f := range e.Fields {
		n += runeLen(f.Name) + runeLen(f.Value)
	}
	if e.Footer != nil {
		n += runeLen(e.Footer.Text)
	}
	if e.Author != nil {
		n += runeLen(e.Author.Name)
	}
	return n
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
