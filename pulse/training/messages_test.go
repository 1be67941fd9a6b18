package training

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/errors"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := Encode(TrainingProgress{Progress: 0.25}, "worker-1", "", "train-1")
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"training_progress"`)
	assert.Contains(t, string(raw), `"srcWorkerId":"worker-1"`)
	assert.NotContains(t, string(raw), "destWorkerId")

	var back Envelope
	require.NoError(t, json.Unmarshal(raw, &back))
	msg, err := DecodeIncoming(back)
	require.NoError(t, err)
	assert.Equal(t, TrainingProgress{Progress: 0.25}, msg)
	assert.Equal(t, "train-1", back.RequestID)
}

func TestDecodeIncoming(t *testing.T) {
	cases := []IncomingMessage{
		WorkerReady{RequestID: "r"},
		TrainingCanceled{},
		TrainingExited{ExitCode: 137, Signal: "killed"},
		TrainingError{Error: errors.Serialize(errors.New("boom"))},
		Log{Log: LogEntry{Level: "warn", Message: "slow", Fields: map[string]any{"step": "vectorize"}}, RequestID: "r"},
	}
	for _, msg := range cases {
		t.Run(msg.MessageType(), func(t *testing.T) {
			env, err := Encode(msg, "w", "", "")
			require.NoError(t, err)
			got, err := DecodeIncoming(env)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestDecodeOutgoing(t *testing.T) {
	cfg := am.Default()
	cfg.Training.MaxWorkers = 3
	env, err := Encode(MakeNewWorker{Config: cfg, RequestID: "r"}, "", "", "r")
	require.NoError(t, err)
	msg, err := DecodeOutgoing(env)
	require.NoError(t, err)
	mk, ok := msg.(MakeNewWorker)
	require.True(t, ok)
	assert.Equal(t, 3, mk.Config.Training.MaxWorkers)

	env, err = Encode(StartTraining{Input: flightInput("train-1")}, "", "w", "train-1")
	require.NoError(t, err)
	msg, err = DecodeOutgoing(env)
	require.NoError(t, err)
	assert.Equal(t, flightInput("train-1"), msg.(StartTraining).Input)

	msg, err = DecodeOutgoing(Envelope{Type: TypeCancelTraining})
	require.NoError(t, err)
	assert.Equal(t, CancelTraining{}, msg)
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeIncoming(Envelope{Type: TypeStartTraining})
	assert.ErrorContains(t, err, "unknown incoming message type")

	_, err = DecodeOutgoing(Envelope{Type: TypeTrainingDone})
	assert.ErrorContains(t, err, "unknown outgoing message type")

	_, err = DecodeIncoming(Envelope{Type: TypeTrainingProgress, Payload: json.RawMessage(`"nope"`)})
	assert.ErrorContains(t, err, "malformed training_progress payload")
}
