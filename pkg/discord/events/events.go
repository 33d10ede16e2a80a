// Package events defines the interaction record carried on the session's
// event pipe and its watermill encoding.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// Topic is the watermill topic inbound interactions are published on.
const Topic = "discord.interactions"

type Kind string

const (
	KindCommand      Kind = "command"
	KindComponent    Kind = "component"
	KindAutocomplete Kind = "autocomplete"
	KindModal        Kind = "modal"
	KindUnknown      Kind = "unknown"
)

// Event is one inbound interaction. Key is the command name for commands and
// autocomplete, the custom id for components and modals.
type Event struct {
	ID         string         `json:"id"`
	AppID      string         `json:"appId"`
	Token      string         `json:"token"`
	Kind       Kind           `json:"kind"`
	Key        string         `json:"key"`
	Subcommand string         `json:"subcommand,omitempty"`
	GuildID    string         `json:"guildId,omitempty"`
	ChannelID  string         `json:"channelId,omitempty"`
	MessageID  string         `json:"messageId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
	Values     []string       `json:"values,omitempty"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// Interaction rebuilds the minimal interaction needed to respond to it.
func (e Event) Interaction() *discordgo.Interaction {
	return &discordgo.Interaction{ID: e.ID, AppID: e.AppID, Token: e.Token}
}

// FromInteraction flattens a gateway interaction into an Event.
func FromInteraction(i *discordgo.Interaction, receivedAt time.Time) Event {
	if i == nil {
		return Event{Kind: KindUnknown, ReceivedAt: receivedAt}
	}
	ev := Event{
		ID:         i.ID,
		AppID:      i.AppID,
		Token:      i.Token,
		GuildID:    i.GuildID,
		ChannelID:  i.ChannelID,
		ReceivedAt: receivedAt,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		ev.UserID = i.Member.User.ID
	case i.User != nil:
		ev.UserID = i.User.ID
	}
	if i.Message != nil {
		ev.MessageID = i.Message.ID
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand, discordgo.InteractionApplicationCommandAutocomplete:
		ev.Kind = KindCommand
		if i.Type == discordgo.InteractionApplicationCommandAutocomplete {
			ev.Kind = KindAutocomplete
		}
		data := i.ApplicationCommandData()
		ev.Key = data.Name
		var path []string
		ev.Options = flattenOptions(data.Options, &path)
		ev.Subcommand = strings.Join(path, " ")
	case discordgo.InteractionMessageComponent:
		ev.Kind = KindComponent
		data := i.MessageComponentData()
		ev.Key = data.CustomID
		ev.Values = append([]string(nil), data.Values...)
	case discordgo.InteractionModalSubmit:
		ev.Kind = KindModal
		ev.Key = i.ModalSubmitData().CustomID
	default:
		ev.Kind = KindUnknown
	}
	return ev
}

func flattenOptions(opts []*discordgo.ApplicationCommandInteractionDataOption, path *[]string) map[string]any {
	out := map[string]any{}
	for _, o := range opts {
		if o == nil {
			continue
		}
		switch o.Type {
		case discordgo.ApplicationCommandOptionSubCommand, discordgo.ApplicationCommandOptionSubCommandGroup:
			*path = append(*path, o.Name)
			for k, v := range flattenOptions(o.Options, path) {
				out[k] = v
			}
		default:
			out[o.Name] = o.Value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Encode wraps an Event into a watermill message.
func Encode(ev Event) (*message.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "encode interaction event")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("kind", string(ev.Kind))
	msg.Metadata.Set("key", ev.Key)
	return msg, nil
}

func Decode(msg *message.Message) (Event, error) {
	if msg == nil {
		return Event{}, errors.New("decode interaction event: nil message")
	}
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, errors.Wrap(err, "decode interaction event")
	}
	return ev, nil
}
