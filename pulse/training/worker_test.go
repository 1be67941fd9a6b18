package training

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/nlu/am"
	nlutest "github.com/teranos/nlu/internal/testing"
	"github.com/teranos/nlu/pipeline"
)

// pipeWorker drives Serve like a queue would.
type pipeWorker struct {
	in   *io.PipeWriter
	enc  *json.Encoder
	dec  *json.Decoder
	done chan error
}

func startServe(t *testing.T, newEnv EnvFactory) *pipeWorker {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	w := &pipeWorker{in: inW, enc: json.NewEncoder(inW), dec: json.NewDecoder(outR), done: make(chan error, 1)}
	go func() {
		err := Serve(context.Background(), ServeOptions{
			In:        inR,
			Out:       outW,
			WorkerID:  "w1",
			RequestID: "req-1",
			NewEnv:    newEnv,
			Level:     zapcore.InfoLevel,
		})
		outW.Close()
		w.done <- err
	}()
	t.Cleanup(func() { inW.Close(); outR.Close() })
	return w
}

// next skips log lines and returns the next protocol message.
func (w *pipeWorker) next(t *testing.T) (Envelope, IncomingMessage) {
	t.Helper()
	for {
		var env Envelope
		require.NoError(t, w.dec.Decode(&env))
		msg, err := DecodeIncoming(env)
		require.NoError(t, err)
		if _, ok := msg.(Log); ok {
			continue
		}
		return env, msg
	}
}

func (w *pipeWorker) send(t *testing.T, msg OutgoingMessage) {
	t.Helper()
	env, err := Encode(msg, "", "w1", "")
	require.NoError(t, err)
	require.NoError(t, w.enc.Encode(env))
}

func TestServeTrainsAndStops(t *testing.T) {
	w := startServe(t, fakeEnv())

	env, msg := w.next(t)
	assert.Equal(t, WorkerReady{RequestID: "req-1"}, msg)
	assert.Equal(t, "w1", env.SrcWorkerID)

	w.send(t, StartTraining{Input: flightInput("train-1")})
	var last float64
	for {
		_, msg := w.next(t)
		if p, ok := msg.(TrainingProgress); ok {
			assert.GreaterOrEqual(t, p.Progress, last)
			last = p.Progress
			continue
		}
		done, ok := msg.(TrainingDone)
		require.True(t, ok, "unexpected %T", msg)
		assert.Equal(t, []string{"global"}, done.Output.Contexts)
		break
	}
	assert.Equal(t, 1.0, last)

	w.send(t, CancelTraining{})
	select {
	case err := <-w.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestServeReportsTrainingErrors(t *testing.T) {
	w := startServe(t, func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
		tools := nlutest.NewFakeTools()
		tools.TokenizeErr = assert.AnError
		return pipeline.Env{Tools: tools}, nil
	})
	_, msg := w.next(t)
	require.IsType(t, WorkerReady{}, msg)

	w.send(t, StartTraining{Input: flightInput("train-1")})
	for {
		_, msg := w.next(t)
		if _, ok := msg.(TrainingProgress); ok {
			continue
		}
		te, ok := msg.(TrainingError)
		require.True(t, ok, "unexpected %T", msg)
		assert.Contains(t, te.Error.Message, assert.AnError.Error())
		break
	}

	// still serving after a failure
	w.send(t, StartTraining{Input: flightInput("train-2")})
	_, msg = w.next(t)
	for {
		if _, ok := msg.(TrainingProgress); !ok {
			break
		}
		_, msg = w.next(t)
	}
	assert.IsType(t, TrainingError{}, msg)
}

func TestServeEnvFailure(t *testing.T) {
	w := startServe(t, func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
		return pipeline.Env{}, assert.AnError
	})

	var logs []LogEntry
	for {
		var env Envelope
		if err := w.dec.Decode(&env); err != nil {
			break
		}
		msg, err := DecodeIncoming(env)
		require.NoError(t, err)
		l, ok := msg.(Log)
		require.True(t, ok, "unexpected %T", msg)
		logs = append(logs, l.Log)
	}
	require.NotEmpty(t, logs)
	assert.Equal(t, "error", logs[len(logs)-1].Level)
	assert.ErrorIs(t, <-w.done, assert.AnError)
}

func TestServeOptionsFromEnv(t *testing.T) {
	t.Setenv(EnvWorkerID, "")
	_, err := ServeOptionsFromEnv()
	assert.ErrorContains(t, err, EnvWorkerID)

	t.Setenv(EnvWorkerID, "w1")
	t.Setenv(EnvRequestID, "req-1")
	t.Setenv(EnvWorkerConfig, `{"Training":{"MaxWorkers":3}}`)
	opts, err := ServeOptionsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "w1", opts.WorkerID)
	assert.Equal(t, "req-1", opts.RequestID)
	assert.Equal(t, 3, opts.Config.Training.MaxWorkers)
	assert.Equal(t, am.DefaultSeed, opts.Config.Training.DefaultSeed)

	t.Setenv(EnvWorkerConfig, "{")
	_, err = ServeOptionsFromEnv()
	assert.ErrorContains(t, err, EnvWorkerConfig)
}
