package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/observe"
	"github.com/Raikerian/go-discord-recorder/pkg/util"
)

// SilenceWindow is how long a speaker may send no audio before their
// capture is closed. It is a fixed policy, not a setting.
const SilenceWindow = 1000 * time.Millisecond

// captureQueueSize is the number of frames buffered per speaker, about
// 1.3 s of 20 ms frames.
const captureQueueSize = 64

// Audio can reach us before the speaking event that names its sender.
// Such packets are held per SSRC for up to the silence window.
const (
	heldPacketLimit = 50
	heldSSRCLimit   = 16
)

// SpeakerStreamManager runs one capture pipeline per speaking user of an
// attached session and closes it after SilenceWindow without audio.
type SpeakerStreamManager interface {
	// Attach starts consuming handle's packets and speaking events on
	// behalf of sess, writing decoded audio into sink.
	Attach(handle *ConnectionHandle, sess *Session, sink FrameSink) error

	// Detach stops every capture of sess and returns once all of them
	// have flushed their queued frames into the sink.
	Detach(sess *Session)

	// ActiveCaptures reports how many users of sess are currently speaking.
	ActiveCaptures(sess *Session) int
}

type speakerStreamManager struct {
	logger        *zap.Logger
	registry      SessionRegistry
	presence      Presence
	metrics       *observe.Metrics
	newDecoder    DecoderFactory
	silenceWindow time.Duration

	mu          sync.Mutex
	attachments map[string]*attachment
}

// SpeakerParams holds dependencies for NewSpeakerStreamManager.
type SpeakerParams struct {
	fx.In
	Logger     *zap.Logger
	Registry   SessionRegistry
	Presence   Presence
	Metrics    *observe.Metrics
	NewDecoder DecoderFactory `optional:"true"`
}

func NewSpeakerStreamManager(params SpeakerParams) SpeakerStreamManager {
	newDecoder := params.NewDecoder
	if newDecoder == nil {
		newDecoder = NewAudioTrackDecoder
	}

	return &speakerStreamManager{
		logger:        params.Logger,
		registry:      params.Registry,
		presence:      params.Presence,
		metrics:       params.Metrics,
		newDecoder:    newDecoder,
		silenceWindow: SilenceWindow,
		attachments:   make(map[string]*attachment),
	}
}

type attachment struct {
	m      *speakerStreamManager
	sess   *Session
	sink   FrameSink
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Owned by the receive loop.
	ssrcUsers map[uint32]discord.UserID
	held      map[uint32]*heldPackets
	names     map[discord.UserID]string

	mu       sync.Mutex
	captures map[discord.UserID]*speakerCapture
	closing  bool
}

type heldPackets struct {
	last    time.Time
	packets []*AudioPacket
}

// speakerCapture is the live decode and write pipeline of one user.
type speakerCapture struct {
	userID    discord.UserID
	startedAt time.Time
	decoder   AudioTrackDecoder
	frames    chan []byte

	// Owned by the capture goroutine.
	decoded int
	bytes   int64
}

func (m *speakerStreamManager) Attach(handle *ConnectionHandle, sess *Session, sink FrameSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attachments[sess.ID]; ok {
		return ErrSessionAlreadyActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &attachment{
		m:         m,
		sess:      sess,
		sink:      sink,
		logger:    m.logger.With(zap.String("session_id", sess.ID), zap.String("guild_id", sess.GuildID.String())),
		ctx:       ctx,
		cancel:    cancel,
		ssrcUsers: make(map[uint32]discord.UserID),
		held:      make(map[uint32]*heldPackets),
		names:     make(map[discord.UserID]string),
		captures:  make(map[discord.UserID]*speakerCapture),
	}
	m.attachments[sess.ID] = a

	a.wg.Add(1)
	go a.receive(handle.Packets(), handle.Speaking())

	a.logger.Debug("Speaker stream manager attached")

	return nil
}

func (m *speakerStreamManager) Detach(sess *Session) {
	m.mu.Lock()
	a, ok := m.attachments[sess.ID]
	delete(m.attachments, sess.ID)
	m.mu.Unlock()

	if !ok {
		return
	}

	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()

	a.logger.Debug("Speaker stream manager detached")
}

func (m *speakerStreamManager) ActiveCaptures(sess *Session) int {
	m.mu.Lock()
	a, ok := m.attachments[sess.ID]
	m.mu.Unlock()

	if !ok {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.captures)
}

func (a *attachment) receive(packets <-chan *AudioPacket, speaking <-chan SpeakingEvent) {
	defer a.wg.Done()
	defer a.discardHeld()

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev, ok := <-speaking:
			if !ok {
				speaking = nil

				continue
			}
			a.bind(ev)
		case pkt, ok := <-packets:
			if !ok {
				a.logger.Debug("Packet stream closed")

				return
			}
			// Bindings that are already queued apply before the packet.
			speaking = a.bindQueued(speaking)
			a.route(pkt)
		}
	}
}

// bindQueued applies every speaking event that is ready without blocking.
// It returns nil once speaking is closed.
func (a *attachment) bindQueued(speaking <-chan SpeakingEvent) <-chan SpeakingEvent {
	for {
		select {
		case ev, ok := <-speaking:
			if !ok {
				return nil
			}
			a.bind(ev)
		default:
			return speaking
		}
	}
}

func (a *attachment) bind(ev SpeakingEvent) {
	a.ssrcUsers[ev.SSRC] = ev.UserID

	if ev.Speaking {
		name := a.resolve(ev.UserID)

		a.mu.Lock()
		a.openLocked(ev.UserID, name)
		a.mu.Unlock()
	}

	h, ok := a.held[ev.SSRC]
	if !ok {
		return
	}
	delete(a.held, ev.SSRC)

	if time.Since(h.last) > a.m.silenceWindow {
		a.droppedN("unknown_ssrc", len(h.packets))

		return
	}
	for _, pkt := range h.packets {
		a.route(pkt)
	}
}

func (a *attachment) route(pkt *AudioPacket) {
	userID, ok := a.ssrcUsers[pkt.SSRC]
	if !ok {
		a.hold(pkt)

		return
	}

	name := a.resolve(userID)

	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.openLocked(userID, name)
	if c == nil {
		a.dropped("no_capture")

		return
	}

	select {
	case c.frames <- pkt.Opus:
	default:
		a.dropped("queue_full")
		a.logger.Debug("Capture queue full, dropping frame", zap.String("user_id", userID.String()))
	}
}

// hold keeps a packet of a not yet bound SSRC until its speaking event
// arrives or it goes stale.
func (a *attachment) hold(pkt *AudioPacket) {
	now := time.Now()
	for ssrc, h := range a.held {
		if now.Sub(h.last) > a.m.silenceWindow {
			a.droppedN("unknown_ssrc", len(h.packets))
			delete(a.held, ssrc)
		}
	}

	h, ok := a.held[pkt.SSRC]
	if !ok {
		if len(a.held) >= heldSSRCLimit {
			a.dropped("unknown_ssrc")

			return
		}
		h = &heldPackets{}
		a.held[pkt.SSRC] = h
	}
	if len(h.packets) >= heldPacketLimit {
		h.packets = h.packets[1:]
		a.dropped("unknown_ssrc")
	}
	h.packets = append(h.packets, pkt)
	h.last = now
}

func (a *attachment) discardHeld() {
	for ssrc, h := range a.held {
		a.droppedN("unknown_ssrc", len(h.packets))
		delete(a.held, ssrc)
	}
}

// resolve returns the display name to record for a user who is not a
// participant yet. The lookup may hit the network, so it never runs under
// a.mu, and it happens once per user.
func (a *attachment) resolve(userID discord.UserID) string {
	name, ok := a.names[userID]
	if !ok {
		if !a.sess.HasParticipant(userID) {
			name = a.m.presence.DisplayName(a.sess.GuildID, userID)
		}
		a.names[userID] = name
	}

	return name
}

// openLocked returns the user's live capture, opening one if needed. A
// failure to open is contained to this user. Callers hold a.mu.
func (a *attachment) openLocked(userID discord.UserID, name string) *speakerCapture {
	if c, ok := a.captures[userID]; ok {
		return c
	}
	if a.closing {
		return nil
	}

	dec, err := a.m.newDecoder()
	if err != nil {
		a.logger.Warn("Failed to open speaker capture",
			zap.String("user_id", userID.String()),
			zap.Error(err))

		return nil
	}

	c := &speakerCapture{
		userID:    userID,
		startedAt: time.Now(),
		decoder:   dec,
		frames:    make(chan []byte, captureQueueSize),
	}
	a.captures[userID] = c
	a.m.metrics.ActiveCaptures.Add(a.ctx, 1)

	if !a.sess.HasParticipant(userID) {
		a.m.registry.ObserveSpeaker(a.sess, userID, name)
	}

	a.logger.Debug("Speaker capture opened", zap.String("user_id", userID.String()))

	a.wg.Add(1)
	go a.run(c)

	return c
}

func (a *attachment) run(c *speakerCapture) {
	defer a.wg.Done()

	idle := util.NewIdleTimer(a.m.silenceWindow)
	defer idle.Stop()

	for {
		select {
		case frame := <-c.frames:
			idle.Touch()
			if err := a.write(c, frame); err != nil {
				a.end(c, "decode_failed", idle)

				return
			}
		case <-idle.C():
			a.end(c, "silence", idle)
			a.drain(c)

			return
		case <-a.ctx.Done():
			a.end(c, "detached", idle)
			a.drain(c)

			return
		}
	}
}

// write decodes one frame into the sink. Only decode failures are returned;
// a closed sink means the session is stopping and the frame is dropped.
func (a *attachment) write(c *speakerCapture, frame []byte) error {
	pcm, err := c.decoder.Decode(frame)
	if err != nil {
		a.m.metrics.DecodeErrors.Add(context.Background(), 1)
		a.logger.Debug("Dropping speaker capture after decode failure",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))

		return err
	}

	if err := a.sink.Write(pcm); err != nil {
		if !errors.Is(err, ErrMuxerClosed) {
			a.logger.Warn("Failed to write decoded audio",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}

		return nil
	}

	c.decoded++
	c.bytes += int64(len(pcm))
	a.m.metrics.FramesDecoded.Add(context.Background(), 1)
	a.m.metrics.BytesWritten.Add(context.Background(), int64(len(pcm)))

	return nil
}

// drain flushes frames that were queued before the capture was removed.
// Nothing can be queued after removal since route holds a.mu.
func (a *attachment) drain(c *speakerCapture) {
	for {
		select {
		case frame := <-c.frames:
			if err := a.write(c, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (a *attachment) end(c *speakerCapture, reason string, idle *util.IdleTimer) {
	a.mu.Lock()
	if a.captures[c.userID] == c {
		delete(a.captures, c.userID)
	}
	a.mu.Unlock()

	a.m.metrics.ActiveCaptures.Add(context.Background(), -1)

	a.logger.Debug("Speaker capture closed",
		zap.String("user_id", c.userID.String()),
		zap.String("reason", reason),
		zap.Duration("duration", time.Since(c.startedAt)),
		zap.Duration("idle", idle.IdleFor()),
		zap.Int("frames", c.decoded),
		zap.Int64("bytes", c.bytes))
}

func (a *attachment) dropped(reason string) {
	a.droppedN(reason, 1)
}

func (a *attachment) droppedN(reason string, n int) {
	if n == 0 {
		return
	}
	a.m.metrics.FramesDropped.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}
