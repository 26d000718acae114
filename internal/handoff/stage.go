package handoff

import (
	"fmt"
	"time"
)

// Stage is a step of the handoff state machine. Runs only move forward and
// stop at StagePersisted or StageFailed.
type Stage int

const (
	StageStopped Stage = iota
	StageArtifactReady
	StageTranscribing
	StageSummarizing
	StagePersisted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageStopped:
		return "stopped"
	case StageArtifactReady:
		return "artifact_ready"
	case StageTranscribing:
		return "transcribing"
	case StageSummarizing:
		return "summarizing"
	case StagePersisted:
		return "persisted"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Progress is the last known position of a session's handoff.
type Progress struct {
	Stage Stage

	// FailedAt is the stage that halted the run when Stage is StageFailed.
	FailedAt  Stage
	Err       error
	UpdatedAt time.Time
}
