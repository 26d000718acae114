package voice

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/pkg/audio"
)

// FrameSink receives decoded PCM from speaker captures.
type FrameSink interface {
	Write(pcm []byte) error
}

// SessionMuxer appends PCM from every active capture to one raw file and
// turns it into the session's delivery artifact.
type SessionMuxer interface {
	FrameSink

	// Finalize closes the raw sink and encodes it. Once it has succeeded,
	// further calls return the same artifact without re-encoding.
	Finalize(ctx context.Context) (*RecordingArtifact, error)

	BytesWritten() int64
}

// RecordingArtifact is the encoded delivery file of one session.
type RecordingArtifact struct {
	SessionID string
	Path      string
	Format    string
	RawBytes  int64
	Size      int64
	Duration  time.Duration
}

// MuxerFactory opens the muxer for a new session.
type MuxerFactory func(sessionID string) (SessionMuxer, error)

type fileMuxer struct {
	logger      *zap.Logger
	encoder     Encoder
	sessionID   string
	rawPath     string
	encodedPath string

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	written int64
	closed  bool

	finalizeMu sync.Mutex
	artifact   *RecordingArtifact
	rawRemoved bool
}

// NewFileMuxer creates <dir>/<sessionID>.pcm and prepares to encode into
// <dir>/<sessionID>.<ext>.
func NewFileMuxer(dir, sessionID string, encoder Encoder, logger *zap.Logger) (SessionMuxer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}

	rawPath := filepath.Join(dir, sessionID+".pcm")
	f, err := os.OpenFile(rawPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create raw capture: %w", err)
	}

	return &fileMuxer{
		logger:      logger.With(zap.String("session_id", sessionID)),
		encoder:     encoder,
		sessionID:   sessionID,
		rawPath:     rawPath,
		encodedPath: filepath.Join(dir, sessionID+"."+encoder.Extension()),
		file:        f,
		w:           bufio.NewWriterSize(f, 64*1024),
	}, nil
}

func (m *fileMuxer) Write(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMuxerClosed
	}

	n, err := m.w.Write(pcm)
	m.written += int64(n)
	if err != nil {
		return fmt.Errorf("append to raw capture: %w", err)
	}

	return nil
}

func (m *fileMuxer) BytesWritten() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.written
}

func (m *fileMuxer) closeSink() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	flushErr := m.w.Flush()
	closeErr := m.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush raw capture: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close raw capture: %w", closeErr)
	}

	return nil
}

func (m *fileMuxer) Finalize(ctx context.Context) (*RecordingArtifact, error) {
	m.finalizeMu.Lock()
	defer m.finalizeMu.Unlock()

	if m.artifact != nil {
		return m.artifact, nil
	}

	if err := m.closeSink(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	raw := m.BytesWritten()
	if raw == 0 {
		m.removeRaw()

		return nil, ErrNothingRecorded
	}

	if err := m.encoder.Encode(ctx, m.rawPath, m.encodedPath); err != nil {
		m.logger.Error("Encoding failed, keeping raw capture",
			zap.String("raw_path", m.rawPath),
			zap.Error(err))

		return nil, err
	}

	info, err := os.Stat(m.encodedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: encoded file missing: %w", ErrEncodeFailed, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: encoded file is empty", ErrEncodeFailed)
	}

	m.removeRaw()

	m.artifact = &RecordingArtifact{
		SessionID: m.sessionID,
		Path:      m.encodedPath,
		Format:    m.encoder.Extension(),
		RawBytes:  raw,
		Size:      info.Size(),
		Duration:  audio.Duration(raw),
	}

	m.logger.Info("Recording finalized",
		zap.String("path", m.encodedPath),
		zap.Int64("raw_bytes", raw),
		zap.Int64("encoded_bytes", info.Size()),
		zap.Duration("audio", m.artifact.Duration))

	return m.artifact, nil
}

func (m *fileMuxer) removeRaw() {
	if m.rawRemoved {
		return
	}
	if err := os.Remove(m.rawPath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove raw capture", zap.String("raw_path", m.rawPath), zap.Error(err))

		return
	}
	m.rawRemoved = true
}
