package workflow

import (
	"encoding/json"
	"time"
)

// InstanceStatus tracks where an instance is in its lifecycle.
type InstanceStatus string

const (
	// InstanceActive means created and not yet terminal
	InstanceActive InstanceStatus = "active"

	// InstanceCompleted means every step completed and the alert is persisted
	InstanceCompleted InstanceStatus = "completed"

	// InstanceFailed means a step failed permanently; no alert was written
	InstanceFailed InstanceStatus = "failed"
)

// StepStatus tracks a single step of an instance.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepName identifies a pipeline step.
type StepName string

const (
	StepResolveOrg        StepName = "resolve_org"
	StepParseEmail        StepName = "parse_email"
	StepGenerateNarration StepName = "generate_narration"
	StepSynthesizeAudio   StepName = "synthesize_audio"
	StepUploadAudio       StepName = "upload_audio"
	StepSaveRecord        StepName = "save_record"
)

// StepOrder is the declared execution order.
var StepOrder = []StepName{
	StepResolveOrg,
	StepParseEmail,
	StepGenerateNarration,
	StepSynthesizeAudio,
	StepUploadAudio,
	StepSaveRecord,
}

// Payload is the inbound email the instance was created from.
type Payload struct {
	EmailFrom string `json:"emailFrom"`
	EmailTo   string `json:"emailTo"`
	EmailText string `json:"emailText"`
}

// Instance is one durable execution of the pipeline. Its ID becomes the
// alert ID.
type Instance struct {
	ID          string         `json:"id"`
	Payload     Payload        `json:"payload"`
	Status      InstanceStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// StepResult is the checkpoint of one step. Output holds the JSON encoded
// step output once Status is StepCompleted.
type StepResult struct {
	InstanceID string          `json:"instance_id"`
	Name       StepName        `json:"name"`
	Status     StepStatus      `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	StartedAt  time.Time       `json:"started_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
