package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

// SectionSlug is the slug Settings decode from.
const SectionSlug = "redis"

// NewSection returns the Redis Streams settings section. defaults seeds the
// flag defaults, usually from the environment.
func NewSection(defaults Settings) (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Redis Streams connection for mirrored interaction events",
		schema.WithFields(
			fields.New("redis-addr", fields.TypeString,
				fields.WithDefault(defaults.Addr),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString,
				fields.WithDefault(defaults.Group),
				fields.WithHelp("Redis consumer group")),
			fields.New("redis-consumer", fields.TypeString,
				fields.WithDefault(defaults.Consumer),
				fields.WithHelp("Redis consumer name")),
			fields.New("redis-max-len", fields.TypeInteger,
				fields.WithDefault(defaults.MaxLen),
				fields.WithHelp("Approximate cap on the interaction stream length (0 is unbounded)")),
		),
	)
}
