package interactions

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/go-go-golems/discordbridge/pkg/discord/events"
	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
)

var ErrAlreadyResponded = errors.New("interaction already acknowledged")

// Responder acknowledges interactions. *discordgo.Session satisfies it.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Reply is handed to a handler and allows exactly one acknowledgement.
type Reply struct {
	ctx       context.Context
	responder Responder
	ev        events.Event
	builder   payload.Builder
	responded bool
}

func (r *Reply) Responded() bool { return r.responded }

// Respond sends a raw interaction response.
func (r *Reply) Respond(resp *discordgo.InteractionResponse) error {
	if r.responded {
		return ErrAlreadyResponded
	}
	r.responded = true
	return r.responder.InteractionRespond(r.ev.Interaction(), resp, discordgo.WithContext(r.ctx))
}

// Message replies with a new message built from spec.
func (r *Reply) Message(spec payload.MessageSpec, ephemeral bool) error {
	data, err := r.data(spec)
	if err != nil {
		return err
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// Update edits the message the activated component belongs to.
func (r *Reply) Update(spec payload.MessageSpec) error {
	data, err := r.data(spec)
	if err != nil {
		return err
	}
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: data,
	})
}

// Defer acknowledges without a visible reply.
func (r *Reply) Defer() error {
	typ := discordgo.InteractionResponseDeferredChannelMessageWithSource
	if r.ev.Kind == events.KindComponent {
		typ = discordgo.InteractionResponseDeferredMessageUpdate
	}
	return r.Respond(&discordgo.InteractionResponse{Type: typ})
}

func (r *Reply) data(spec payload.MessageSpec) (*discordgo.InteractionResponseData, error) {
	msg, err := r.builder.Build(spec)
	if err != nil {
		return nil, err
	}
	return &discordgo.InteractionResponseData{
		Content:    msg.Content,
		Embeds:     msg.Embeds,
		Components: msg.Components,
	}, nil
}
