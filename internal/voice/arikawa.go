package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/state"
	"github.com/diamondburned/arikawa/v3/state/store"
	"github.com/diamondburned/arikawa/v3/voice"
	"github.com/diamondburned/arikawa/v3/voice/voicegateway"
	"go.uber.org/zap"
)

// maxReadErrors is how many consecutive UDP read failures end a link.
const maxReadErrors = 50

// ArikawaDialer opens voice links through the arikawa voice session.
type ArikawaDialer struct {
	state  *state.State
	logger *zap.Logger
}

func NewArikawaDialer(st *state.State, logger *zap.Logger) Dialer {
	return &ArikawaDialer{state: st, logger: logger}
}

func (d *ArikawaDialer) Dial(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID) (Link, error) {
	vs, err := voice.NewSession(d.state)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice session: %w", err)
	}

	l := &arikawaLink{
		session:  vs,
		logger:   d.logger.With(zap.String("guild_id", guildID.String()), zap.String("channel_id", channelID.String())),
		packets:  make(chan *AudioPacket, 256),
		speaking: make(chan SpeakingEvent, 32),
		done:     make(chan struct{}),
	}

	// Registered before joining so no speaking event of the first
	// speakers is missed.
	l.removeHandler = vs.AddHandler(l.onSpeaking)

	if err := vs.JoinChannel(ctx, channelID, false, false); err != nil {
		l.removeHandler()

		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	if err := vs.Speaking(ctx, voicegateway.Microphone); err != nil {
		l.removeHandler()
		_ = vs.Leave(context.Background())

		return nil, fmt.Errorf("failed to set speaking mode: %w", err)
	}

	// The UDP socket is not readable until something has been written.
	_, _ = vs.Write([]byte{})

	go l.readLoop()

	l.logger.Info("Voice link established")

	return l, nil
}

type arikawaLink struct {
	session       *voice.Session
	logger        *zap.Logger
	removeHandler func()

	packets  chan *AudioPacket
	speaking chan SpeakingEvent
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closing   bool
}

func (l *arikawaLink) Packets() <-chan *AudioPacket  { return l.packets }
func (l *arikawaLink) Speaking() <-chan SpeakingEvent { return l.speaking }
func (l *arikawaLink) Done() <-chan struct{}          { return l.done }

func (l *arikawaLink) onSpeaking(ev *voicegateway.SpeakingEvent) {
	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.speaking <- SpeakingEvent{UserID: ev.UserID, SSRC: ev.SSRC, Speaking: ev.Speaking != 0}:
	default:
		l.logger.Warn("Speaking event queue full, dropping event",
			zap.String("user_id", ev.UserID.String()),
			zap.Uint32("ssrc", ev.SSRC))
	}
}

func (l *arikawaLink) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closing
}

func (l *arikawaLink) readLoop() {
	defer func() {
		l.removeHandler()
		close(l.packets)
		close(l.done)
	}()

	failures := 0
	for {
		pkt, err := l.session.ReadPacket()
		if err != nil {
			if l.isClosing() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				l.logger.Debug("Voice link read loop finished", zap.Error(err))

				return
			}

			failures++
			if failures >= maxReadErrors {
				l.logger.Warn("Too many voice read failures, closing link", zap.Error(err))

				return
			}
			l.logger.Debug("Failed to read voice packet", zap.Error(err))

			continue
		}
		failures = 0

		if pkt == nil || len(pkt.Opus) == 0 {
			continue
		}

		select {
		case l.packets <- &AudioPacket{
			SSRC:         pkt.SSRC(),
			Opus:         append([]byte(nil), pkt.Opus...),
			RTPTimestamp: pkt.Timestamp(),
			Sequence:     pkt.Sequence(),
		}:
		default:
			l.logger.Debug("Packet queue full, dropping packet", zap.Uint32("ssrc", pkt.SSRC()))
		}
	}
}

func (l *arikawaLink) Close(ctx context.Context) error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closing = true
		l.mu.Unlock()

		err = l.session.Leave(ctx)
	})

	return err
}

// ArikawaPresence answers presence questions from the gateway state cache.
type ArikawaPresence struct {
	state *state.State
}

func NewArikawaPresence(st *state.State) Presence {
	return &ArikawaPresence{state: st}
}

func (p *ArikawaPresence) VoiceChannel(guildID discord.GuildID, userID discord.UserID) (discord.ChannelID, error) {
	vs, err := p.state.VoiceState(guildID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotInVoiceChannel
		}

		return 0, fmt.Errorf("look up voice state: %w", err)
	}
	if !vs.ChannelID.IsValid() {
		return 0, ErrNotInVoiceChannel
	}

	return vs.ChannelID, nil
}

func (p *ArikawaPresence) CanConnect(_ discord.GuildID, channelID discord.ChannelID) (bool, error) {
	me, err := p.state.Me()
	if err != nil {
		return false, fmt.Errorf("look up bot user: %w", err)
	}

	perms, err := p.state.Permissions(channelID, me.ID)
	if err != nil {
		return false, fmt.Errorf("compute channel permissions: %w", err)
	}

	return perms.Has(discord.PermissionViewChannel | discord.PermissionConnect), nil
}

func (p *ArikawaPresence) DisplayName(guildID discord.GuildID, userID discord.UserID) string {
	if m, err := p.state.Member(guildID, userID); err == nil {
		if m.Nick != "" {
			return m.Nick
		}
		if m.User.Username != "" {
			return m.User.Username
		}
	}
	if u, err := p.state.User(userID); err == nil && u.Username != "" {
		return u.Username
	}

	return userID.String()
}

// ChannelNotifier posts notifications as plain channel messages.
type ChannelNotifier struct {
	state *state.State
}

func NewChannelNotifier(st *state.State) Notifier {
	return &ChannelNotifier{state: st}
}

func (n *ChannelNotifier) Notify(ctx context.Context, channelID discord.ChannelID, content string) error {
	_, err := n.state.WithContext(ctx).SendMessage(channelID, content)

	return err
}
