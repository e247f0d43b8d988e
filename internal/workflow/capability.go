package workflow

import (
	"context"

	"github.com/linnemanlabs/prealert/internal/alert"
	"github.com/linnemanlabs/prealert/internal/narration"
)

// OrgResolver maps the raw recipient field to an organization ID.
type OrgResolver interface {
	Resolve(ctx context.Context, to string) (string, error)
}

// Narrator generates narration text. Implementations classify failures
// with the faults package and never retry on their own.
type Narrator interface {
	Narrate(ctx context.Context, req *narration.Request) (string, error)
}

// Synthesizer converts narration text into MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioStore persists synthesized audio.
type AudioStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// AlertWriter persists the finalized alert, idempotently on AlertID.
type AlertWriter interface {
	InsertAlert(ctx context.Context, a *alert.Alert) (bool, error)
}

// Notifier is told about every instance that reaches a terminal state.
type Notifier interface {
	Send(ctx context.Context, s *Summary) error
}

// Summary describes a terminal instance for notifications.
type Summary struct {
	Instance   *Instance
	Alert      *alert.Alert
	FailedStep StepName
	Err        error
	Duration   float64
}
