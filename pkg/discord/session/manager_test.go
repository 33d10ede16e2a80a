package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/discordbridge/pkg/discord/events"
)

type fakeGateway struct {
	opens  atomic.Int32
	closes atomic.Int32
	// open runs synchronously inside Open, the way discordgo dispatches the
	// Ready event before Open returns.
	open func(n int32) error
}

func (g *fakeGateway) Open() error {
	n := g.opens.Add(1)
	if g.open != nil {
		return g.open(n)
	}
	return nil
}

func (g *fakeGateway) Close() error {
	g.closes.Add(1)
	return nil
}

type fakeREST struct {
	mu    sync.Mutex
	sends []string
}

func (r *fakeREST) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, channelID)
	return &discordgo.Message{ID: "m1", ChannelID: channelID, Content: data.Content}, nil
}

func (r *fakeREST) ApplicationCommandBulkOverwrite(string, string, []*discordgo.ApplicationCommand, ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return nil, nil
}

func (r *fakeREST) ApplicationCommands(string, string, ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return nil, nil
}

func (r *fakeREST) InteractionRespond(*discordgo.Interaction, *discordgo.InteractionResponse, ...discordgo.RequestOption) error {
	return nil
}

func (r *fakeREST) sendCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

type recordingAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingAfter) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordingAfter) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type transitions struct {
	mu   sync.Mutex
	list []Transition
}

func (tr *transitions) observe(t Transition) {
	tr.mu.Lock()
	tr.list = append(tr.list, t)
	tr.mu.Unlock()
}

func (tr *transitions) pairs() [][2]State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([][2]State, 0, len(tr.list))
	for _, t := range tr.list {
		out = append(out, [2]State{t.From, t.To})
	}
	return out
}

func newReadyOnOpen(t *testing.T, opts ...Option) (*Manager, *fakeGateway, *fakeREST) {
	t.Helper()
	gw := &fakeGateway{}
	rest := &fakeREST{}
	m, err := NewManager(DefaultConfig(), gw, rest, opts...)
	require.NoError(t, err)
	gw.open = func(int32) error {
		m.handleReady()
		return nil
	}
	t.Cleanup(func() { _ = m.Shutdown() })
	return m, gw, rest
}

// lockingGateway mirrors discordgo: Open holds the session lock for the
// whole handshake and Close needs the same lock.
type lockingGateway struct {
	mu      sync.Mutex
	release chan struct{}
	opens   atomic.Int32
	closes  atomic.Int32
}

func (g *lockingGateway) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opens.Add(1)
	<-g.release
	return errors.New("no hello received")
}

func (g *lockingGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes.Add(1)
	return nil
}

func TestStart_LoginTimeoutsExhaustAttempts(t *testing.T) {
	rec := &recordingAfter{}
	gw := &fakeGateway{}
	var timeouts atomic.Int32
	m, err := NewManager(DefaultConfig(), gw, &fakeREST{}, WithAfter(func(d time.Duration) <-chan time.Time {
		if d != DefaultConfig().LoginTimeout {
			return rec.after(d)
		}
		// Time out attempt n only after its Open has run.
		n := timeouts.Add(1)
		rec.mu.Lock()
		rec.delays = append(rec.delays, d)
		rec.mu.Unlock()
		ch := make(chan time.Time, 1)
		go func() {
			for gw.opens.Load() < n {
				time.Sleep(time.Millisecond)
			}
			ch <- time.Now()
		}()
		return ch
	}))
	require.NoError(t, err)
	defer func() { _ = m.Shutdown() }()

	err = m.Start(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.Equal(t, Disconnected, m.State())
	require.False(t, m.IsReady())

	require.Eventually(t, func() bool { return gw.opens.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(3), gw.opens.Load(), "no fourth login attempt")
	require.Eventually(t, func() bool { return gw.closes.Load() == 3 }, time.Second, 5*time.Millisecond)

	require.Equal(t, []time.Duration{
		30 * time.Second, 5 * time.Second,
		30 * time.Second, 5 * time.Second,
		30 * time.Second,
	}, rec.recorded())
}

func TestStart_HungOpenDoesNotBlockLoginOrShutdown(t *testing.T) {
	gw := &lockingGateway{release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.LoginTimeout = 20 * time.Millisecond
	cfg.LoginRetryDelay = time.Millisecond
	m, err := NewManager(cfg, gw, &fakeREST{})
	require.NoError(t, err)
	released := false
	defer func() {
		if !released {
			close(gw.release)
		}
	}()

	startErr := make(chan error, 1)
	go func() { startErr <- m.Start(context.Background()) }()
	select {
	case err := <-startErr:
		require.ErrorIs(t, err, ErrConnectionFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start blocked behind a hung Open")
	}
	require.Equal(t, Disconnected, m.State())
	require.Equal(t, int32(1), gw.opens.Load(), "later attempts wait for the hung Open")

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- m.Shutdown() }()
	select {
	case err := <-shutdownErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked behind a hung Open")
	}
	require.Zero(t, gw.closes.Load())

	close(gw.release)
	released = true
	require.Eventually(t, func() bool { return gw.closes.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), gw.opens.Load(), "abandoned attempts never open")
	require.Equal(t, int32(1), gw.closes.Load())
}

func TestStart_OpenErrorCountsAsAttempt(t *testing.T) {
	rec := &recordingAfter{}
	gw := &fakeGateway{}
	m, err := NewManager(DefaultConfig(), gw, &fakeREST{}, WithAfter(func(d time.Duration) <-chan time.Time {
		if d == DefaultConfig().LoginTimeout {
			return make(chan time.Time)
		}
		return rec.after(d)
	}))
	require.NoError(t, err)
	defer func() { _ = m.Shutdown() }()
	gw.open = func(n int32) error {
		if n == 1 {
			return errors.New("dial failed")
		}
		m.handleReady()
		return nil
	}

	require.NoError(t, m.Start(context.Background()))
	require.True(t, m.IsReady())
	require.Equal(t, int32(2), gw.opens.Load())
	require.Equal(t, []time.Duration{5 * time.Second}, rec.recorded())
}

func TestStart_ReadyRunsHookAndWakesWaiters(t *testing.T) {
	hookCalled := make(chan struct{}, 1)
	tr := &transitions{}
	m, _, _ := newReadyOnOpen(t,
		WithOnReady(func(context.Context) { hookCalled <- struct{}{} }),
		WithObserver(tr.observe),
	)

	waitErr := make(chan error, 1)
	go func() { waitErr <- m.WaitReady(context.Background()) }()

	require.NoError(t, m.Start(context.Background()))
	require.Equal(t, Ready, m.State())
	require.NoError(t, <-waitErr)

	select {
	case <-hookCalled:
	case <-time.After(time.Second):
		t.Fatal("on-ready hook not called")
	}
	require.Equal(t, [][2]State{{Disconnected, Connecting}, {Connecting, Ready}}, tr.pairs())

	// Already running.
	require.NoError(t, m.Start(context.Background()))
}

func TestDisconnectReconnectResume(t *testing.T) {
	tr := &transitions{}
	m, _, rest := newReadyOnOpen(t)
	require.NoError(t, m.Start(context.Background()))
	m.Subscribe(tr.observe)

	m.handleDisconnect()
	require.Equal(t, Reconnecting, m.State())

	_, err := m.Send(context.Background(), "123456789012345678", &discordgo.MessageSend{Content: "hi"})
	require.ErrorIs(t, err, ErrNotReady)
	require.Zero(t, rest.sendCount())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.WaitReady(ctx), context.DeadlineExceeded)

	m.handleResumed()
	require.Equal(t, Ready, m.State())
	require.NoError(t, m.WaitReady(context.Background()))

	msg, err := m.Send(context.Background(), "123456789012345678", &discordgo.MessageSend{Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, "m1", msg.ID)
	require.Equal(t, 1, rest.sendCount())

	require.Equal(t, [][2]State{
		{Ready, Disconnected},
		{Disconnected, Reconnecting},
		{Reconnecting, Ready},
	}, tr.pairs())
}

func TestDisconnectWithoutAutoReconnect(t *testing.T) {
	gw := &fakeGateway{}
	cfg := DefaultConfig()
	cfg.AutoReconnect = false
	m, err := NewManager(cfg, gw, &fakeREST{})
	require.NoError(t, err)
	defer func() { _ = m.Shutdown() }()
	gw.open = func(int32) error {
		m.handleReady()
		return nil
	}

	require.NoError(t, m.Start(context.Background()))
	m.handleDisconnect()
	require.Equal(t, Disconnected, m.State())

	m.handleResumed()
	require.Equal(t, Disconnected, m.State(), "resume is only legal from reconnecting")
}

func TestShutdown_IdempotentAndFinal(t *testing.T) {
	m, gw, _ := newReadyOnOpen(t)
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())
	require.Equal(t, Disconnected, m.State())
	require.Eventually(t, func() bool { return gw.closes.Load() == 1 }, time.Second, 5*time.Millisecond)

	m.handleReady()
	m.handleResumed()
	require.Equal(t, Disconnected, m.State())

	require.ErrorIs(t, m.Start(context.Background()), ErrShutdown)
	require.ErrorIs(t, m.WaitReady(context.Background()), ErrShutdown)

	_, err := m.Send(context.Background(), "123456789012345678", &discordgo.MessageSend{Content: "x"})
	require.ErrorIs(t, err, ErrNotReady)
}

func TestShutdown_ConcurrentWithSends(t *testing.T) {
	m, _, _ := newReadyOnOpen(t)
	require.NoError(t, m.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = m.Send(context.Background(), "123456789012345678", &discordgo.MessageSend{Content: "x"})
			}
		}()
	}
	require.NoError(t, m.Shutdown())
	wg.Wait()
	require.Equal(t, Disconnected, m.State())
}

func TestInteractionsArePublished(t *testing.T) {
	m, _, _ := newReadyOnOpen(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := m.Events().Subscribe(ctx, events.Topic)
	require.NoError(t, err)

	// Publishing blocks until the subscriber acks.
	go m.handleInteraction(&discordgo.Interaction{
		ID:    "i1",
		Type:  discordgo.InteractionMessageComponent,
		Token: "tok",
		Data:  discordgo.MessageComponentInteractionData{CustomID: "counter:3"},
	})

	select {
	case msg := <-msgs:
		ev, err := events.Decode(msg)
		require.NoError(t, err)
		msg.Ack()
		require.Equal(t, events.KindComponent, ev.Kind)
		require.Equal(t, "counter:3", ev.Key)
		require.Equal(t, "i1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("interaction not published")
	}
}

type blockingPublisher struct {
	release   chan struct{}
	published atomic.Int32
}

func (p *blockingPublisher) Publish(_ string, msgs ...*message.Message) error {
	<-p.release
	p.published.Add(int32(len(msgs)))
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

func TestSlowObserversDoNotStallRouterPipe(t *testing.T) {
	mirror := &blockingPublisher{release: make(chan struct{})}
	m, _, _ := newReadyOnOpen(t, WithMirror(mirror))
	t.Cleanup(func() { close(mirror.release) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routed, err := m.Events().Subscribe(ctx, events.Topic)
	require.NoError(t, err)
	// Subscribed but never read.
	_, err = m.Feed().Subscribe(ctx, events.Topic)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			m.handleInteraction(&discordgo.Interaction{
				ID:   fmt.Sprintf("i%d", i),
				Type: discordgo.InteractionMessageComponent,
				Data: discordgo.MessageComponentInteractionData{CustomID: fmt.Sprintf("counter:%d", i)},
			})
		}
	}()

	for i := 0; i < 3; i++ {
		select {
		case msg := <-routed:
			ev, err := events.Decode(msg)
			require.NoError(t, err)
			msg.Ack()
			require.Equal(t, fmt.Sprintf("i%d", i), ev.ID)
		case <-time.After(time.Second):
			t.Fatalf("event %d stalled behind a slow observer", i)
		}
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gateway handler blocked on the mirror")
	}
	require.Zero(t, mirror.published.Load())
}

func TestFeedCarriesEvents(t *testing.T) {
	m, _, _ := newReadyOnOpen(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := m.Feed().Subscribe(ctx, events.Topic)
	require.NoError(t, err)
	m.handleInteraction(&discordgo.Interaction{
		ID:   "i1",
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: "counter:1"},
	})

	select {
	case msg := <-feed:
		ev, err := events.Decode(msg)
		require.NoError(t, err)
		msg.Ack()
		require.Equal(t, "counter:1", ev.Key)
	case <-time.After(time.Second):
		t.Fatal("event not fed")
	}
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(DefaultConfig(), nil, &fakeREST{})
	require.Error(t, err)
	_, err = NewManager(DefaultConfig(), &fakeGateway{}, nil)
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "reconnecting", Reconnecting.String())
	require.Equal(t, "unknown", State(42).String())
}
