package application

import "time"

// Stage is the last pipeline stage a message reached.
type Stage string

const (
	StageReceived   Stage = "received"
	StageParsed     Stage = "parsed"
	StageIdentified Stage = "identified"
	StageDiscovered Stage = "discovered"
	StagePersisted  Stage = "persisted"
	StageEvaluated  Stage = "evaluated"
	StageDone       Stage = "done"
)

// Result classifies how a message left the pipeline.
type Result string

const (
	ResultProcessed Result = "processed"
	ResultDiscarded Result = "discarded"
	ResultTimeout   Result = "timeout"
	ResultPanic     Result = "panic"
)

// Outcome summarizes the processing of one message.
type Outcome struct {
	Stage  Stage
	Result Result
	// Reason is the discard reason label when Result is not processed.
	Reason string
	Err    error

	Topic      string
	TenantSlug string
	DeviceKey  string
	TenantID   int64
	DeviceID   int64

	Points         int
	WriteFailed    bool
	RulesEvaluated int
	AlertsRaised   int
	Suppressed     int
	Duration       time.Duration
}

func (o *Outcome) discard(reason string, err error) {
	o.Result = ResultDiscarded
	o.Reason = reason
	o.Err = err
}
