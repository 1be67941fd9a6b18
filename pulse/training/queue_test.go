package training

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/errors"
	nlutest "github.com/teranos/nlu/internal/testing"
	"github.com/teranos/nlu/pipeline"
)

func flightInput(trainID string) pipeline.TrainInput {
	return pipeline.TrainInput{
		TrainID:      trainID,
		LanguageCode: "en",
		Seed:         42,
		Intents: []pipeline.IntentDefinition{
			{Name: "A", Contexts: []string{"global"}, Utterances: []string{"book a flight"}},
			{Name: "B", Contexts: []string{"global"}, Utterances: []string{"cancel my flight"}},
		},
		Contexts:   []string{"global"},
		CtxToTrain: []string{"global"},
	}
}

// blockingTools holds tokenization until released.
type blockingTools struct {
	*nlutest.FakeTools
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingTools() *blockingTools {
	return &blockingTools{FakeTools: nlutest.NewFakeTools(), started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingTools) TokenizeUtterances(ctx context.Context, utterances []string, lang string, vocab []string) ([][]string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.FakeTools.TokenizeUtterances(ctx, utterances, lang, vocab)
}

// countingTransport counts spawns of an in-process transport.
type countingTransport struct {
	InProcessTransport
	spawns atomic.Int32
}

func (c *countingTransport) Spawn(ctx context.Context, msg MakeNewWorker) (Worker, error) {
	c.spawns.Add(1)
	return c.InProcessTransport.Spawn(ctx, msg)
}

func fakeEnv() EnvFactory {
	return func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
		return pipeline.Env{Tools: nlutest.NewFakeTools(), Logger: log}, nil
	}
}

func newTestQueue(t *testing.T, newEnv EnvFactory) (*Queue, *countingTransport) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	transport := &countingTransport{InProcessTransport: InProcessTransport{NewEnv: newEnv, Logger: log}}
	q, err := NewQueue(Options{Transport: transport, Config: am.Default(), Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, transport
}

func TestStartTrainingReusesWorkers(t *testing.T) {
	q, transport := newTestQueue(t, fakeEnv())

	var mu sync.Mutex
	var progress []float64
	output, err := q.StartTraining(context.Background(), flightInput("train-1"), func(p float64) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"global"}, output.Contexts)
	assert.Contains(t, output.IntentModelByCtx, "global")

	mu.Lock()
	require.NotEmpty(t, progress)
	assert.Equal(t, 1.0, progress[len(progress)-1])
	mu.Unlock()

	assert.Len(t, q.ReadyWorkers(), 1)

	_, err = q.StartTraining(context.Background(), flightInput("train-2"), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), transport.spawns.Load())

	jobs := q.Jobs()
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, JobStatusCompleted, j.Status)
		assert.Equal(t, 1.0, j.Progress)
		assert.NotNil(t, j.StartedAt)
		assert.NotNil(t, j.CompletedAt)
	}
}

func TestIdleWorkerExitSpawnsNewWorker(t *testing.T) {
	q, transport := newTestQueue(t, fakeEnv())

	_, err := q.StartTraining(context.Background(), flightInput("train-1"), nil)
	require.NoError(t, err)
	ready := q.ReadyWorkers()
	require.Len(t, ready, 1)

	// closing stdin ends the worker loop while it sits idle
	q.mu.Lock()
	idle := q.ready[0]
	q.mu.Unlock()
	require.NoError(t, idle.(*streamWorker).in.Close())
	require.Eventually(t, func() bool { return len(idle.Messages()) > 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = q.StartTraining(context.Background(), flightInput("train-2"), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), transport.spawns.Load())
	assert.Len(t, q.ReadyWorkers(), 1)
	assert.NotContains(t, q.ReadyWorkers(), ready[0])
}

func TestTrainingAlreadyStarted(t *testing.T) {
	tools := newBlockingTools()
	q, _ := newTestQueue(t, func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
		return pipeline.Env{Tools: tools, Logger: log}, nil
	})

	result := make(chan error, 1)
	go func() {
		_, err := q.StartTraining(context.Background(), flightInput("train-1"), nil)
		result <- err
	}()
	<-tools.started

	_, err := q.StartTraining(context.Background(), flightInput("train-1"), nil)
	assert.True(t, errors.IsTrainingAlreadyStarted(err))

	close(tools.release)
	require.NoError(t, <-result)
}

func TestCancelTrainingRemovesWorker(t *testing.T) {
	tools := newBlockingTools()
	q, _ := newTestQueue(t, func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
		return pipeline.Env{Tools: tools, Logger: log}, nil
	})

	result := make(chan error, 1)
	go func() {
		_, err := q.StartTraining(context.Background(), flightInput("train-1"), nil)
		result <- err
	}()
	<-tools.started

	job, ok := q.Job("train-1")
	require.True(t, ok)
	assert.Equal(t, JobStatusRunning, job.Status)

	require.NoError(t, q.CancelTraining(context.Background(), "train-1"))

	err := <-result
	assert.True(t, errors.IsTrainingCanceled(err))
	assert.Empty(t, q.ReadyWorkers())

	job, _ = q.Job("train-1")
	assert.Equal(t, JobStatusCancelled, job.Status)

	assert.NoError(t, q.CancelTraining(context.Background(), "unknown"))
}

func TestContextCancellationCancelsTraining(t *testing.T) {
	tools := newBlockingTools()
	q, _ := newTestQueue(t, func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
		return pipeline.Env{Tools: tools, Logger: log}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := q.StartTraining(ctx, flightInput("train-1"), nil)
		result <- err
	}()
	<-tools.started
	cancel()

	select {
	case err := <-result:
		assert.True(t, errors.IsTrainingCanceled(err))
	case <-time.After(10 * time.Second):
		t.Fatal("training did not stop")
	}
	assert.Empty(t, q.ReadyWorkers())
}

func TestTrainingErrorKeepsWorker(t *testing.T) {
	q, _ := newTestQueue(t, func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
		tools := nlutest.NewFakeTools()
		tools.TokenizeErr = errors.New("language server is down")
		return pipeline.Env{Tools: tools, Logger: log}, nil
	})

	_, err := q.StartTraining(context.Background(), flightInput("train-1"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "language server is down")
	assert.False(t, errors.IsTrainingCanceled(err))
	assert.Len(t, q.ReadyWorkers(), 1)

	job, _ := q.Job("train-1")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "language server is down")
}

func TestWorkerFailingToStart(t *testing.T) {
	q, _ := newTestQueue(t, func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
		return pipeline.Env{}, errors.New("no language source configured")
	})

	_, err := q.StartTraining(context.Background(), flightInput("train-1"), nil)
	var exited *errors.TrainingExitedUnexpectedlyError
	require.True(t, errors.As(err, &exited))
	assert.Equal(t, 1, exited.ExitCode)
	assert.Empty(t, q.ReadyWorkers())

	// the train id is free again
	_, err = q.StartTraining(context.Background(), flightInput("train-1"), nil)
	assert.False(t, errors.IsTrainingAlreadyStarted(err))
}

// scriptedWorker answers StartTraining with a fixed list of messages.
type scriptedWorker struct {
	id     string
	script []IncomingMessage
	msgs   chan IncomingMessage
	killed atomic.Bool
}

func (w *scriptedWorker) ID() string                       { return w.id }
func (w *scriptedWorker) PID() int                         { return 0 }
func (w *scriptedWorker) Messages() <-chan IncomingMessage { return w.msgs }
func (w *scriptedWorker) Kill() error                      { w.killed.Store(true); return nil }

func (w *scriptedWorker) Send(env Envelope) error {
	if env.Type != TypeStartTraining {
		return nil
	}
	go func() {
		for _, m := range w.script {
			w.msgs <- m
		}
		close(w.msgs)
	}()
	return nil
}

type scriptedTransport struct {
	script []IncomingMessage
}

func (s *scriptedTransport) Spawn(ctx context.Context, msg MakeNewWorker) (Worker, error) {
	w := &scriptedWorker{id: "scripted", script: s.script, msgs: make(chan IncomingMessage, 16)}
	w.msgs <- Log{Log: LogEntry{Level: "info", Message: "starting"}, RequestID: msg.RequestID}
	w.msgs <- WorkerReady{RequestID: msg.RequestID}
	return w, nil
}

func TestWorkerExitingDuringTraining(t *testing.T) {
	transport := &scriptedTransport{script: []IncomingMessage{
		TrainingProgress{Progress: 0.2},
		TrainingExited{ExitCode: 137, Signal: "killed"},
	}}
	q, err := NewQueue(Options{Transport: transport, Logger: zaptest.NewLogger(t).Sugar()})
	require.NoError(t, err)

	_, err = q.StartTraining(context.Background(), flightInput("train-1"), nil)
	var exited *errors.TrainingExitedUnexpectedlyError
	require.True(t, errors.As(err, &exited))
	assert.Equal(t, "scripted", exited.WorkerID)
	assert.Equal(t, 137, exited.ExitCode)
	assert.Empty(t, q.ReadyWorkers())

	job, _ := q.Job("train-1")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 0.2, job.Progress)
}

func TestMaxWorkersQueuesTrainings(t *testing.T) {
	tools := newBlockingTools()
	log := zaptest.NewLogger(t).Sugar()
	q, err := NewQueue(Options{
		Transport: &InProcessTransport{NewEnv: func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
			return pipeline.Env{Tools: tools, Logger: log}, nil
		}, Logger: log},
		MaxWorkers: 1,
		Logger:     log,
	})
	require.NoError(t, err)
	defer q.Close()

	first := make(chan error, 1)
	go func() {
		_, err := q.StartTraining(context.Background(), flightInput("train-1"), nil)
		first <- err
	}()
	<-tools.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = q.StartTraining(ctx, flightInput("train-2"), nil)
	assert.True(t, errors.IsTrainingCanceled(err))

	job, _ := q.Job("train-2")
	assert.Equal(t, JobStatusCancelled, job.Status)

	close(tools.release)
	require.NoError(t, <-first)
}
