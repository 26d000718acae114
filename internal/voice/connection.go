package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

// Link is an established voice transport connection.
type Link interface {
	// Packets delivers received audio frames. It is closed when the link
	// goes away.
	Packets() <-chan *AudioPacket

	// Speaking delivers SSRC to user bindings as the gateway reports them.
	Speaking() <-chan SpeakingEvent

	// Done is closed once the transport is gone, whether through Close or
	// a remote disconnect.
	Done() <-chan struct{}

	Close(ctx context.Context) error
}

// Dialer opens voice links. Dial returns once the link is ready to receive
// or ctx is done.
type Dialer interface {
	Dial(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID) (Link, error)
}

// Presence answers questions about guild members and the bot's own access.
type Presence interface {
	// VoiceChannel returns the channel userID is connected to, or
	// ErrNotInVoiceChannel.
	VoiceChannel(guildID discord.GuildID, userID discord.UserID) (discord.ChannelID, error)

	// CanConnect reports whether the bot may view and connect to channelID.
	CanConnect(guildID discord.GuildID, channelID discord.ChannelID) (bool, error)

	// DisplayName resolves the name used in activity logs.
	DisplayName(guildID discord.GuildID, userID discord.UserID) string
}

// ConnectionHandle is the controller-owned view of one guild's link.
type ConnectionHandle struct {
	GuildID     discord.GuildID
	ChannelID   discord.ChannelID
	ConnectedAt time.Time

	link Link
}

func (h *ConnectionHandle) Packets() <-chan *AudioPacket  { return h.link.Packets() }
func (h *ConnectionHandle) Speaking() <-chan SpeakingEvent { return h.link.Speaking() }
func (h *ConnectionHandle) Done() <-chan struct{}          { return h.link.Done() }

// ConnectionController owns join and leave of voice links, at most one per
// guild.
type ConnectionController interface {
	// Locate returns the voice channel the requesting user is in.
	Locate(guildID discord.GuildID, userID discord.UserID) (discord.ChannelID, error)

	// Join connects to channelID. An existing link to the same channel is
	// returned as is; a link to another channel is closed first.
	Join(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID) (*ConnectionHandle, error)

	// Leave closes the guild's link. It is a no-op without one.
	Leave(ctx context.Context, guildID discord.GuildID) error

	Handle(guildID discord.GuildID) (*ConnectionHandle, bool)
}

type connectionController struct {
	logger       *zap.Logger
	dialer       Dialer
	presence     Presence
	readyTimeout time.Duration

	mu      sync.Mutex
	handles map[discord.GuildID]*ConnectionHandle
	locks   map[discord.GuildID]*sync.Mutex
}

// ConnectionParams holds dependencies for NewConnectionController.
type ConnectionParams struct {
	fx.In
	Logger   *zap.Logger
	Cfg      *config.Config
	Dialer   Dialer
	Presence Presence
}

func NewConnectionController(params ConnectionParams) ConnectionController {
	return &connectionController{
		logger:       params.Logger,
		dialer:       params.Dialer,
		presence:     params.Presence,
		readyTimeout: params.Cfg.Recording.ConnectTimeout,
		handles:      make(map[discord.GuildID]*ConnectionHandle),
		locks:        make(map[discord.GuildID]*sync.Mutex),
	}
}

func (c *connectionController) guildLock(guildID discord.GuildID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[guildID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[guildID] = l
	}

	return l
}

func (c *connectionController) Locate(guildID discord.GuildID, userID discord.UserID) (discord.ChannelID, error) {
	channelID, err := c.presence.VoiceChannel(guildID, userID)
	if err != nil {
		return 0, err
	}
	if !channelID.IsValid() {
		return 0, ErrNotInVoiceChannel
	}

	return channelID, nil
}

func (c *connectionController) Join(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID) (*ConnectionHandle, error) {
	lock := c.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	if h, ok := c.Handle(guildID); ok {
		if h.ChannelID == channelID && !isClosed(h.Done()) {
			return h, nil
		}

		c.logger.Info("Replacing voice connection",
			zap.String("guild_id", guildID.String()),
			zap.String("from_channel_id", h.ChannelID.String()),
			zap.String("to_channel_id", channelID.String()))
		c.drop(ctx, h)
	}

	ok, err := c.presence.CanConnect(guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("check channel permissions: %w", err)
	}
	if !ok {
		return nil, ErrPermissionDenied
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	link, err := c.dialer.Dial(dialCtx, guildID, channelID)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %w", ErrConnectionTimeout, c.readyTimeout, err)
		}

		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	h := &ConnectionHandle{
		GuildID:     guildID,
		ChannelID:   channelID,
		ConnectedAt: time.Now(),
		link:        link,
	}

	c.mu.Lock()
	c.handles[guildID] = h
	c.mu.Unlock()

	c.logger.Info("Joined voice channel",
		zap.String("guild_id", guildID.String()),
		zap.String("channel_id", channelID.String()))

	return h, nil
}

func (c *connectionController) Leave(ctx context.Context, guildID discord.GuildID) error {
	lock := c.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	h, ok := c.Handle(guildID)
	if !ok {
		return nil
	}

	return c.drop(ctx, h)
}

// drop forgets h and closes its link. Callers hold the guild lock.
func (c *connectionController) drop(ctx context.Context, h *ConnectionHandle) error {
	c.mu.Lock()
	if c.handles[h.GuildID] == h {
		delete(c.handles, h.GuildID)
	}
	c.mu.Unlock()

	if err := h.link.Close(ctx); err != nil {
		c.logger.Warn("Failed to leave voice channel cleanly",
			zap.String("guild_id", h.GuildID.String()),
			zap.Error(err))

		return err
	}

	c.logger.Info("Left voice channel",
		zap.String("guild_id", h.GuildID.String()),
		zap.String("channel_id", h.ChannelID.String()))

	return nil
}

func (c *connectionController) Handle(guildID discord.GuildID) (*ConnectionHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[guildID]

	return h, ok
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
