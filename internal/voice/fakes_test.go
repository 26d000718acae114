package voice

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-discord-recorder/internal/config"
	"github.com/Raikerian/go-discord-recorder/internal/observe"
)

type fakeLink struct {
	packets  chan *AudioPacket
	speaking chan SpeakingEvent
	done     chan struct{}
	once     sync.Once
	closes   atomic.Int32
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		packets:  make(chan *AudioPacket, 512),
		speaking: make(chan SpeakingEvent, 32),
		done:     make(chan struct{}),
	}
}

func (l *fakeLink) Packets() <-chan *AudioPacket  { return l.packets }
func (l *fakeLink) Speaking() <-chan SpeakingEvent { return l.speaking }
func (l *fakeLink) Done() <-chan struct{}          { return l.done }

func (l *fakeLink) Close(context.Context) error {
	l.closes.Add(1)
	l.once.Do(func() { close(l.done) })

	return nil
}

func (l *fakeLink) speak(userID discord.UserID, ssrc uint32) {
	l.speaking <- SpeakingEvent{UserID: userID, SSRC: ssrc, Speaking: true}
}

func (l *fakeLink) send(ssrc uint32, frame []byte) {
	l.packets <- &AudioPacket{SSRC: ssrc, Opus: frame}
}

type fakeDialer struct {
	mu    sync.Mutex
	links []*fakeLink
	err   error
	block bool
}

func (d *fakeDialer) Dial(ctx context.Context, _ discord.GuildID, _ discord.ChannelID) (Link, error) {
	if d.block {
		<-ctx.Done()

		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	l := newFakeLink()
	d.links = append(d.links, l)

	return l, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.links)
}

func (d *fakeDialer) last() *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.links[len(d.links)-1]
}

type fakePresence struct {
	channels map[discord.UserID]discord.ChannelID
	names    map[discord.UserID]string
	denied   bool

	// lookup runs inside every DisplayName call.
	lookup func()
}

func (p *fakePresence) VoiceChannel(_ discord.GuildID, userID discord.UserID) (discord.ChannelID, error) {
	ch, ok := p.channels[userID]
	if !ok {
		return 0, ErrNotInVoiceChannel
	}

	return ch, nil
}

func (p *fakePresence) CanConnect(discord.GuildID, discord.ChannelID) (bool, error) {
	return !p.denied, nil
}

func (p *fakePresence) DisplayName(_ discord.GuildID, userID discord.UserID) string {
	if p.lookup != nil {
		p.lookup()
	}
	if name, ok := p.names[userID]; ok {
		return name
	}

	return userID.String()
}

// fakeDecoder expands every frame into pcmPerFrame copies of its first
// byte. A frame starting with 'x' fails.
type fakeDecoder struct{}

const pcmPerFrame = 8

func (fakeDecoder) Decode(opus []byte) ([]byte, error) {
	if len(opus) == 0 || opus[0] == 'x' {
		return nil, ErrDecodeFailed
	}

	return bytes.Repeat(opus[:1], pcmPerFrame), nil
}

func newFakeDecoder() (AudioTrackDecoder, error) { return fakeDecoder{}, nil }

// tallySink counts written bytes by value.
type tallySink struct {
	mu    sync.Mutex
	total int
	bytes map[byte]int
}

func newTallySink() *tallySink {
	return &tallySink{bytes: make(map[byte]int)}
}

func (s *tallySink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total += len(pcm)
	for _, b := range pcm {
		s.bytes[b]++
	}

	return nil
}

func (s *tallySink) count(b byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bytes[b]
}

func (s *tallySink) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.total
}

type fakeEncoder struct {
	calls atomic.Int32
	err   error
}

func (e *fakeEncoder) Extension() string { return "mp3" }

func (e *fakeEncoder) Encode(_ context.Context, in, out string) error {
	e.calls.Add(1)
	if e.err != nil {
		return e.err
	}

	raw, err := os.ReadFile(in)
	if err != nil {
		return err
	}

	return os.WriteFile(out, []byte(fmt.Sprintf("encoded %d bytes", len(raw))), 0o644)
}

type fakeHandoff struct {
	mu   sync.Mutex
	runs []SessionSnapshot
	err  error
}

func (h *fakeHandoff) Run(_ context.Context, snap SessionSnapshot, _ *RecordingArtifact) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append(h.runs, snap)

	return h.err
}

func (h *fakeHandoff) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.runs)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, _ discord.ChannelID, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, content)

	return nil
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.messages...)
}

const (
	testGuild   = discord.GuildID(100)
	testChannel = discord.ChannelID(200)
	testText    = discord.ChannelID(300)
	alice       = discord.UserID(1)
	bob         = discord.UserID(2)
	botSelf     = discord.UserID(9)
)

func testConfig(dir string) *config.Config {
	cfg := &config.Config{}
	cfg.Recording.RecordingsDir = dir
	cfg.Recording.ConnectTimeout = time.Second
	cfg.Recording.MaxConcurrentSessions = 2

	return cfg
}

func newTestRegistry(t *testing.T) SessionRegistry {
	t.Helper()

	return NewSessionRegistry(RegistryParams{
		Logger:  zaptest.NewLogger(t),
		Cfg:     testConfig(t.TempDir()),
		Metrics: observe.NewNopMetrics(),
	})
}

func newTestPresence() *fakePresence {
	return &fakePresence{
		channels: map[discord.UserID]discord.ChannelID{alice: testChannel, bob: testChannel},
		names:    map[discord.UserID]string{alice: "alice", bob: "bob"},
	}
}

func newTestSpeakers(t *testing.T, registry SessionRegistry, presence Presence, window time.Duration) *speakerStreamManager {
	t.Helper()

	m := NewSpeakerStreamManager(SpeakerParams{
		Logger:     zaptest.NewLogger(t),
		Registry:   registry,
		Presence:   presence,
		Metrics:    observe.NewNopMetrics(),
		NewDecoder: newFakeDecoder,
	}).(*speakerStreamManager)
	m.silenceWindow = window

	return m
}
