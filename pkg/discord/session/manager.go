package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/discord/errclass"
	"github.com/go-go-golems/discordbridge/pkg/discord/events"
	"github.com/go-go-golems/discordbridge/pkg/logging"
)

var (
	// ErrNotReady is returned by Send outside the Ready state.
	ErrNotReady = errclass.ErrNotReady
	// ErrConnectionFailed is returned once every login attempt has failed.
	ErrConnectionFailed = errors.New("discord connection failed")
	ErrLoginTimeout     = errors.New("discord login timed out")
	ErrShutdown         = errors.New("discord session shut down")
)

// Gateway is the persistent event connection.
type Gateway interface {
	Open() error
	Close() error
}

// RESTClient is the subset of the platform REST API the bridge uses.
// *discordgo.Session satisfies it.
type RESTClient interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

var _ RESTClient = (*discordgo.Session)(nil)

type Option func(*Manager)

// WithOnReady sets the hook run (on its own goroutine) each time the session
// enters Ready.
func WithOnReady(f func(ctx context.Context)) Option {
	return func(m *Manager) { m.onReady = f }
}

// WithObserver registers a callback for every state transition.
func WithObserver(f func(Transition)) Option {
	return func(m *Manager) {
		if f != nil {
			m.observers = append(m.observers, f)
		}
	}
}

// WithMirror publishes every inbound event to pub as well as the local pipe.
// Mirror publishes run on their own goroutine behind a queue of EventBuffer
// events; when the queue is full the event is dropped for the mirror only.
// Shutdown closes pub.
func WithMirror(pub message.Publisher) Option {
	return func(m *Manager) {
		if pub != nil {
			m.mirrors = append(m.mirrors, pub)
		}
	}
}

// WithAfter replaces time.After for login timeouts and retry delays.
func WithAfter(f func(time.Duration) <-chan time.Time) Option {
	return func(m *Manager) {
		if f != nil {
			m.after = f
		}
	}
}

func withNow(f func() time.Time) Option {
	return func(m *Manager) { m.now = f }
}

// Manager owns the single live session: its state machine, login with
// retry, reconnect tracking and the inbound event pipe.
type Manager struct {
	cfg  Config
	gw   Gateway
	rest RESTClient

	pipe       *gochannel.GoChannel
	feed       *gochannel.GoChannel
	mirrors    []message.Publisher
	mirrorQ    chan *message.Message
	mirrorDone chan struct{}

	onReady   func(ctx context.Context)
	observers []func(Transition)
	after     func(time.Duration) <-chan time.Time
	now       func() time.Time

	state atomic.Int32

	mu       sync.Mutex
	readyCh  chan struct{}
	pending  chan error
	closed   bool
	done     chan struct{}
	runCtx   context.Context
	cancelFn context.CancelFunc
	// gwFree is closed once the previous Open, and the Close that follows a
	// failed one, have returned. Gateway calls never overlap.
	gwFree chan struct{}
}

func NewManager(cfg Config, gw Gateway, rest RESTClient, opts ...Option) (*Manager, error) {
	if gw == nil {
		return nil, errors.New("session manager: gateway is nil")
	}
	if rest == nil {
		return nil, errors.New("session manager: rest client is nil")
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		gw:      gw,
		rest:    rest,
		after:   time.After,
		now:     time.Now,
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	wlog := logging.NewWatermill(log.Logger)
	// Blocking publish keeps events in gateway order for serial consumers.
	m.pipe = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.EventBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, wlog)
	m.feed = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.EventBuffer,
	}, wlog)
	m.runCtx, m.cancelFn = context.WithCancel(context.Background())
	m.state.Store(int32(Disconnected))
	free := make(chan struct{})
	close(free)
	m.gwFree = free
	if len(m.mirrors) > 0 {
		m.mirrorQ = make(chan *message.Message, cfg.EventBuffer)
		m.mirrorDone = make(chan struct{})
		go m.runMirrors()
	}
	return m, nil
}

// State returns the current state without blocking.
func (m *Manager) State() State { return State(m.state.Load()) }

// IsReady reports whether outbound sends are currently permitted.
func (m *Manager) IsReady() bool { return m.State() == Ready }

// Events is the subscriber side of the inbound event pipe. Publishing waits
// for every subscriber to ack, so it is meant for the interaction router and
// other consumers that must see events in gateway order.
func (m *Manager) Events() message.Subscriber { return m.pipe }

// Feed carries a copy of every inbound event for observers such as the
// websocket tap. Publishing never waits on these subscribers and delivery
// order is best effort.
func (m *Manager) Feed() message.Subscriber { return m.feed }

// Subscribe registers an observer for every subsequent state transition.
func (m *Manager) Subscribe(f func(Transition)) {
	if f == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, f)
	m.mu.Unlock()
}

// REST exposes the REST client for command publication and interaction
// responses.
func (m *Manager) REST() RESTClient { return m.rest }

// Start logs in, retrying up to MaxLoginAttempts. It returns nil once Ready
// and ErrConnectionFailed (state Disconnected) when every attempt failed.
// Calling Start on a session that is not Disconnected is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.State() != Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxLoginAttempts; attempt++ {
		err := m.login(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrShutdown) || ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).
			Str("component", "discord.session").
			Int("attempt", attempt).
			Int("max_attempts", m.cfg.MaxLoginAttempts).
			Msg("login attempt failed")
		if attempt == m.cfg.MaxLoginAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrShutdown
		case <-m.after(m.cfg.LoginRetryDelay):
		}
	}
	log.Error().Err(lastErr).
		Str("component", "discord.session").
		Int("attempts", m.cfg.MaxLoginAttempts).
		Msg("giving up on discord login")
	return errors.Wrapf(ErrConnectionFailed, "%d attempts, last error: %v", m.cfg.MaxLoginAttempts, lastErr)
}

func (m *Manager) login(ctx context.Context, attempt int) error {
	wait := make(chan error, 1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	m.pending = wait
	prev := m.gwFree
	released := make(chan struct{})
	m.gwFree = released
	t, changed := m.transitionLocked(Connecting, attempt, "login")
	m.mu.Unlock()
	m.notify(t, changed)

	// opened reports whether Open was called once it has returned.
	opened := make(chan bool, 1)
	go func() {
		<-prev
		m.mu.Lock()
		live := !m.closed && m.pending == wait
		m.mu.Unlock()
		if !live {
			opened <- false
			return
		}
		err := m.gw.Open()
		opened <- true
		if err != nil {
			select {
			case wait <- errors.Wrap(err, "open gateway"):
			default:
			}
		}
	}()

	var err error
	select {
	case err = <-wait:
	case <-m.after(m.cfg.LoginTimeout):
		err = ErrLoginTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		go m.releaseGateway(opened, released, false)
		return nil
	}

	m.mu.Lock()
	if m.pending == wait {
		m.pending = nil
	}
	var changed2 bool
	var t2 Transition
	if m.State() == Connecting {
		t2, changed2 = m.transitionLocked(Disconnected, attempt, err.Error())
	}
	m.mu.Unlock()
	m.notify(t2, changed2)

	// A hung Open holds the gateway lock that Close needs, so the failed
	// attempt is cleaned up once Open returns instead of here.
	go m.releaseGateway(opened, released, true)
	return err
}

// releaseGateway waits for an attempt's Open to return, closes the socket
// if the attempt failed, and hands the gateway to the next caller. A late
// Ready from the abandoned Open keeps the socket.
func (m *Manager) releaseGateway(opened <-chan bool, released chan struct{}, failed bool) {
	defer close(released)
	called := <-opened
	if !failed || !called {
		return
	}
	m.mu.Lock()
	keep := m.closed || m.State() == Ready
	m.mu.Unlock()
	if keep {
		return
	}
	if err := m.gw.Close(); err != nil {
		log.Debug().Err(err).Str("component", "discord.session").Msg("closing gateway after failed login")
	}
}

// WaitReady blocks until the session is Ready, ctx is done, or the manager
// shuts down.
func (m *Manager) WaitReady(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.State() == Ready {
		m.mu.Unlock()
		return nil
	}
	ch := m.readyCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-m.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts a message to a channel. It fails fast with ErrNotReady unless
// the session is Ready; it never triggers a connection attempt.
func (m *Manager) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	if !m.IsReady() {
		return nil, ErrNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return m.rest.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
}

// Shutdown tears the session down. It is idempotent and safe to call from
// any state and concurrently with in-flight sends; afterwards no gateway
// event can move the session out of Disconnected.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	pending := m.pending
	m.pending = nil
	gwFree := m.gwFree
	t, changed := m.transitionLocked(Disconnected, 0, "shutdown")
	m.mu.Unlock()
	m.notify(t, changed)

	if pending != nil {
		select {
		case pending <- ErrShutdown:
		default:
		}
	}
	m.cancelFn()

	var out error
	select {
	case <-gwFree:
		if err := m.gw.Close(); err != nil {
			out = errors.Wrap(err, "close gateway")
		}
	default:
		// An Open is still running; close once it returns.
		go func() {
			<-gwFree
			if err := m.gw.Close(); err != nil {
				log.Warn().Err(err).Str("component", "discord.session").Msg("closing gateway after shutdown")
			}
		}()
	}
	if err := m.pipe.Close(); err != nil && out == nil {
		out = errors.Wrap(err, "close event pipe")
	}
	if err := m.feed.Close(); err != nil && out == nil {
		out = errors.Wrap(err, "close event feed")
	}
	if m.mirrorDone != nil {
		<-m.mirrorDone
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Close(); err != nil {
			log.Warn().Err(err).Str("component", "discord.session").Msg("closing event mirror")
		}
	}
	log.Info().Str("component", "discord.session").Msg("session shut down")
	return out
}

func (m *Manager) handleReady() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	from := m.State()
	if from != Connecting && from != Reconnecting {
		m.mu.Unlock()
		log.Debug().Str("component", "discord.session").Str("state", from.String()).Msg("ignoring ready event")
		return
	}
	t, changed := m.transitionLocked(Ready, 0, "ready")
	pending := m.pending
	m.pending = nil
	hook := m.onReady
	ctx := m.runCtx
	m.mu.Unlock()
	m.notify(t, changed)

	if pending != nil {
		select {
		case pending <- nil:
		default:
		}
	}
	if hook != nil {
		go hook(ctx)
	}
}

func (m *Manager) handleResumed() {
	m.mu.Lock()
	if m.closed || m.State() != Reconnecting {
		m.mu.Unlock()
		return
	}
	t, changed := m.transitionLocked(Ready, 0, "resumed")
	m.mu.Unlock()
	m.notify(t, changed)
}

func (m *Manager) handleDisconnect() {
	m.mu.Lock()
	if m.closed || m.State() != Ready {
		m.mu.Unlock()
		return
	}
	t1, c1 := m.transitionLocked(Disconnected, 0, "socket closed")
	var t2 Transition
	var c2 bool
	if m.cfg.AutoReconnect {
		t2, c2 = m.transitionLocked(Reconnecting, 0, "auto reconnect")
	}
	m.mu.Unlock()
	m.notify(t1, c1)
	m.notify(t2, c2)
}

func (m *Manager) handleInteraction(i *discordgo.Interaction) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	ev := events.FromInteraction(i, m.now())
	msg, err := events.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("component", "discord.session").Msg("dropping undecodable interaction")
		return
	}
	if err := m.feed.Publish(events.Topic, msg.Copy()); err != nil {
		log.Warn().Err(err).Str("component", "discord.session").Str("key", ev.Key).Msg("feed interaction")
	}
	if m.mirrorQ != nil {
		select {
		case m.mirrorQ <- msg.Copy():
		default:
			log.Warn().Str("component", "discord.session").Str("key", ev.Key).Msg("mirror queue full, dropping interaction")
		}
	}
	if err := m.pipe.Publish(events.Topic, msg); err != nil {
		log.Error().Err(err).Str("component", "discord.session").Str("key", ev.Key).Msg("publish interaction")
	}
}

func (m *Manager) runMirrors() {
	defer close(m.mirrorDone)
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.mirrorQ:
			for _, mirror := range m.mirrors {
				if err := mirror.Publish(events.Topic, msg.Copy()); err != nil {
					log.Warn().Err(err).Str("component", "discord.session").Str("message_id", msg.UUID).Msg("mirror interaction")
				}
			}
		}
	}
}

// transitionLocked moves to the given state and manages the ready channel.
// Callers hold m.mu and pass the result to notify after unlocking.
func (m *Manager) transitionLocked(to State, attempt int, reason string) (Transition, bool) {
	from := m.State()
	if from == to {
		return Transition{}, false
	}
	m.state.Store(int32(to))
	if to == Ready {
		close(m.readyCh)
	} else if from == Ready {
		m.readyCh = make(chan struct{})
	}
	return Transition{From: from, To: to, Attempt: attempt, Reason: reason}, true
}

func (m *Manager) notify(t Transition, changed bool) {
	if !changed {
		return
	}
	ev := log.Info()
	if t.To == Disconnected && t.From != Connecting {
		ev = log.Warn()
	}
	ev.Str("component", "discord.session").
		Str("from", t.From.String()).
		Str("to", t.To.String()).
		Int("attempt", t.Attempt).
		Str("reason", t.Reason).
		Msg("session state changed")
	m.mu.Lock()
	observers := append([]func(Transition){}, m.observers...)
	m.mu.Unlock()
	for _, obs := range observers {
		obs(t)
	}
}
