package payload

// Platform limits enforced before anything is sent.
const (
	MaxContentLength    = 2000
	MaxEmbeds           = 10
	MaxEmbedTitle       = 256
	MaxEmbedDescription = 4096
	MaxEmbedFields      = 25
	MaxEmbedFieldName   = 256
	MaxEmbedFieldValue  = 1024
	MaxEmbedFooterText  = 2048
	MaxEmbedAuthorName  = 256
	MaxEmbedTotalText   = 6000
	MaxEmbedColor       = 0xFFFFFF
	MaxButtons          = 25
	MaxButtonsPerRow    = 5
	MaxButtonLabel      = 80
	MaxButtonCustomID   = 100
)

const (
	ButtonStylePrimary   = "primary"
	ButtonStyleSecondary = "secondary"
	ButtonStyleSuccess   = "success"
	ButtonStyleDanger    = "danger"
	ButtonStyleLink      = "link"
)

// TimestampNow asks the builder to stamp the embed with the build time.
const TimestampNow = "now"

// MessageSpec is the abstract description of an outbound message.
type MessageSpec struct {
	Content string       `json:"content,omitempty"`
	Embeds  []EmbedSpec  `json:"embeds,omitempty"`
	Buttons []ButtonSpec `json:"buttons,omitempty"`
}

// EmbedSpec describes one rich panel. Timestamp is empty, "now", or an
// RFC3339 instant.
type EmbedSpec struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Color       int         `json:"color,omitempty"`
	Fields      []FieldSpec `json:"fields,omitempty"`
	Footer      *FooterSpec `json:"footer,omitempty"`
	Author      *AuthorSpec `json:"author,omitempty"`
	Thumbnail   string      `json:"thumbnail,omitempty"`
	Image       string      `json:"image,omitempty"`
	Timestamp   string      `json:"timestamp,omitempty"`
}

type FieldSpec struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type FooterSpec struct {
	Text    string `json:"text"`
	IconURL string `json:"iconUrl,omitempty"`
}

type AuthorSpec struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"iconUrl,omitempty"`
}

// ButtonSpec describes one button. Link buttons navigate and never produce
// interaction events, so they carry a URL instead of a custom id.
type ButtonSpec struct {
	Label    string `json:"label,omitempty"`
	Style    string `json:"style,omitempty"`
	CustomID string `json:"customId,omitempty"`
	URL      string `json:"url,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}
