package session

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var _ Gateway = (*discordgo.Session)(nil)

// NewDiscord builds a Manager on top of a discordgo bot session. discordgo's
// own reconnect loop resumes dropped sockets; the manager tracks state from the
// Ready, Resumed and Disconnect events.
func NewDiscord(token string, cfg Config, opts ...Option) (*Manager, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord session: empty bot token")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	dg, err := discordgo.New(token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	dg.Identify.Intents = discordgo.IntentsGuilds
	dg.ShouldReconnectOnError = true
	// Handlers run on the gateway goroutine so interactions reach the pipe in
	// the order they arrived.
	dg.SyncEvents = true
	// 429s surface as *discordgo.RateLimitError for the retry engine.
	dg.ShouldRetryOnRateLimit = false
	// Open holds the session lock until the handshake finishes.
	dg.Dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.withDefaults().LoginTimeout,
	}

	m, err := NewManager(cfg, dg, dg, opts...)
	if err != nil {
		return nil, err
	}
	Bind(dg, m)
	return m, nil
}

// Bind routes a discordgo session's lifecycle and interaction events into m.
func Bind(dg *discordgo.Session, m *Manager) {
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) { m.handleReady() })
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) { m.handleResumed() })
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) { m.handleDisconnect() })
	dg.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic == nil {
			return
		}
		m.handleInteraction(ic.Interaction)
	})
}
