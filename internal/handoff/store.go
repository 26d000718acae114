package handoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

// ResultStore keeps one JSON document per session under the sessions dir,
// plus a pending checkpoint while the session is being processed. Every
// write is atomic: readers see the old file or the new one, never a part.
type ResultStore struct {
	dir    string
	cache  *ResultCache
	logger *zap.Logger
}

// StoreParams holds dependencies for NewResultStore.
type StoreParams struct {
	fx.In
	Cfg    *config.Config
	Logger *zap.Logger
}

func NewResultStore(params StoreParams) (*ResultStore, error) {
	dir := params.Cfg.Handoff.SessionsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	cache, err := NewResultCache(params.Cfg.Handoff.ResultCacheSize)
	if err != nil {
		return nil, err
	}

	return &ResultStore{
		dir:    dir,
		cache:  cache,
		logger: params.Logger.Named("results"),
	}, nil
}

// validID rejects anything that is not a session id, which also keeps
// lookups inside the sessions dir.
func validID(sessionID string) bool {
	_, err := uuid.Parse(sessionID)

	return err == nil
}

func (s *ResultStore) resultPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *ResultStore) jobPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".pending.json")
}

// Save persists r. It fails with ErrResultExists when the session already
// has a result.
func (s *ResultStore) Save(r *Result) error {
	if s.Exists(r.SessionID) {
		return ErrResultExists
	}

	if err := writeJSON(s.resultPath(r.SessionID), r); err != nil {
		return err
	}
	s.cache.Add(r.SessionID, r)

	s.logger.Info("Session result saved", zap.String("session_id", r.SessionID))

	return nil
}

// Load returns the result of a session, or ErrResultNotFound.
func (s *ResultStore) Load(sessionID string) (*Result, error) {
	if !validID(sessionID) {
		return nil, ErrResultNotFound
	}
	if r, ok := s.cache.Get(sessionID); ok {
		return r, nil
	}

	var r Result
	if err := readJSON(s.resultPath(sessionID), &r); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrResultNotFound
		}

		return nil, err
	}
	s.cache.Add(sessionID, &r)

	return &r, nil
}

func (s *ResultStore) Exists(sessionID string) bool {
	if !validID(sessionID) {
		return false
	}
	if s.cache.Contains(sessionID) {
		return true
	}
	_, err := os.Stat(s.resultPath(sessionID))

	return err == nil
}

// SaveJob writes or replaces the session's pending checkpoint.
func (s *ResultStore) SaveJob(j *Job) error {
	return writeJSON(s.jobPath(j.SessionID), j)
}

// LoadJob reads the pending checkpoint. A missing checkpoint is reported
// as ErrArtifactNotFound.
func (s *ResultStore) LoadJob(sessionID string) (*Job, error) {
	if !validID(sessionID) {
		return nil, ErrArtifactNotFound
	}

	var j Job
	if err := readJSON(s.jobPath(sessionID), &j); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrArtifactNotFound
		}

		return nil, err
	}

	return &j, nil
}

func (s *ResultStore) RemoveJob(sessionID string) {
	if err := os.Remove(s.jobPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove pending checkpoint", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrPersistenceFailed, filepath.Base(path), err)
	}

	return nil
}

// writeJSON writes v next to path and renames it into place.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistenceFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("%w: write %s: %w", ErrPersistenceFailed, filepath.Base(path), err)
	}

	return nil
}
