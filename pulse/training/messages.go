package training

import (
	"encoding/json"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/pipeline"
)

// Message types on the wire.
const (
	TypeMakeNewWorker    = "make_new_worker"
	TypeStartTraining    = "start_training"
	TypeCancelTraining   = "cancel_training"
	TypeWorkerReady      = "worker_ready"
	TypeTrainingProgress = "training_progress"
	TypeTrainingDone     = "training_done"
	TypeTrainingError    = "training_error"
	TypeTrainingCanceled = "training_canceled"
	TypeTrainingExited   = "training_exited"
	TypeLog              = "log"
)

// Envelope is the JSON form of every message, one per line.
type Envelope struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	SrcWorkerID  string          `json:"srcWorkerId,omitempty"`
	DestWorkerID string          `json:"destWorkerId,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
}

// OutgoingMessage goes from the queue to a worker.
type OutgoingMessage interface {
	outgoing()
	MessageType() string
}

// IncomingMessage goes from a worker to the queue.
type IncomingMessage interface {
	incoming()
	MessageType() string
}

// MakeNewWorker asks the transport for a new worker.
type MakeNewWorker struct {
	Config    *am.Config `json:"config"`
	RequestID string     `json:"requestId"`
}

// StartTraining hands a training input to a ready worker.
type StartTraining struct {
	Input pipeline.TrainInput `json:"input"`
}

// CancelTraining kills the worker running a training.
type CancelTraining struct{}

// WorkerReady is sent once a worker has built its tools.
type WorkerReady struct {
	RequestID string `json:"requestId"`
}

// TrainingProgress reports a progress in [0, 1].
type TrainingProgress struct {
	Progress float64 `json:"progress"`
}

// TrainingDone carries the output of a successful training.
type TrainingDone struct {
	Output pipeline.TrainOutput `json:"output"`
}

// TrainingError carries a training failure.
type TrainingError struct {
	Error errors.SerializedError `json:"error"`
}

// TrainingCanceled acknowledges that a killed worker is gone.
type TrainingCanceled struct{}

// TrainingExited reports a worker that died on its own.
type TrainingExited struct {
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal"`
}

// Log is a log line of a worker.
type Log struct {
	Log       LogEntry `json:"log"`
	RequestID string   `json:"requestId"`
}

// LogEntry is one zap entry of a worker.
type LogEntry struct {
	Level   string         `json:"level"`
	Logger  string         `json:"logger,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (MakeNewWorker) outgoing()  {}
func (StartTraining) outgoing()  {}
func (CancelTraining) outgoing() {}

func (MakeNewWorker) MessageType() string  { return TypeMakeNewWorker }
func (StartTraining) MessageType() string  { return TypeStartTraining }
func (CancelTraining) MessageType() string { return TypeCancelTraining }

func (WorkerReady) incoming()      {}
func (TrainingProgress) incoming() {}
func (TrainingDone) incoming()     {}
func (TrainingError) incoming()    {}
func (TrainingCanceled) incoming() {}
func (TrainingExited) incoming()   {}
func (Log) incoming()              {}

func (WorkerReady) MessageType() string      { return TypeWorkerReady }
func (TrainingProgress) MessageType() string { return TypeTrainingProgress }
func (TrainingDone) MessageType() string     { return TypeTrainingDone }
func (TrainingError) MessageType() string    { return TypeTrainingError }
func (TrainingCanceled) MessageType() string { return TypeTrainingCanceled }
func (TrainingExited) MessageType() string   { return TypeTrainingExited }
func (Log) MessageType() string              { return TypeLog }

// Encode wraps a message into an envelope.
func Encode(msg interface{ MessageType() string }, src, dest, requestID string) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "failed to encode %s message", msg.MessageType())
	}
	return Envelope{
		Type:         msg.MessageType(),
		Payload:      payload,
		SrcWorkerID:  src,
		DestWorkerID: dest,
		RequestID:    requestID,
	}, nil
}

// DecodeIncoming unwraps a message sent by a worker.
func DecodeIncoming(env Envelope) (IncomingMessage, error) {
	switch env.Type {
	case TypeWorkerReady:
		return decodePayload[WorkerReady](env)
	case TypeTrainingProgress:
		return decodePayload[TrainingProgress](env)
	case TypeTrainingDone:
		return decodePayload[TrainingDone](env)
	case TypeTrainingError:
		return decodePayload[TrainingError](env)
	case TypeTrainingCanceled:
		return decodePayload[TrainingCanceled](env)
	case TypeTrainingExited:
		return decodePayload[TrainingExited](env)
	case TypeLog:
		return decodePayload[Log](env)
	default:
		return nil, errors.Newf("unknown incoming message type %q", env.Type)
	}
}

// DecodeOutgoing unwraps a message sent to a worker.
func DecodeOutgoing(env Envelope) (OutgoingMessage, error) {
	switch env.Type {
	case TypeMakeNewWorker:
		return decodePayload[MakeNewWorker](env)
	case TypeStartTraining:
		return decodePayload[StartTraining](env)
	case TypeCancelTraining:
		return decodePayload[CancelTraining](env)
	default:
		return nil, errors.Newf("unknown outgoing message type %q", env.Type)
	}
}

func decodePayload[T any](env Envelope) (T, error) {
	var msg T
	if len(env.Payload) == 0 {
		return msg, nil
	}
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return msg, errors.Wrapf(err, "malformed %s payload", env.Type)
	}
	return msg, nil
}
