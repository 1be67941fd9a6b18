// Package training runs trainings in worker processes. The queue keeps a
// pool of ready workers, hands each training to one of them and relays
// progress, logs and results back to the caller.
package training

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/pipeline"
	"github.com/teranos/nlu/pulse"
	"github.com/teranos/nlu/tools"
)

// maxFinishedJobs bounds the job history kept by a Queue.
const maxFinishedJobs = 256

// Options configures a Queue.
type Options struct {
	Transport Transport
	// Config is handed to every new worker.
	Config *am.Config
	// MaxWorkers bounds concurrent trainings (0 = unbounded).
	MaxWorkers int
	Emitter    pulse.ProgressEmitter
	Logger     *zap.SugaredLogger
}

// session is one training from StartTraining to its return.
type session struct {
	worker   Worker // nil until a worker is bound
	job      *Job
	canceled bool
	finished chan struct{}
}

// Queue dispatches trainings to workers. At most one training runs per
// train id and per worker.
type Queue struct {
	transport Transport
	config    *am.Config
	emitter   pulse.ProgressEmitter
	log       *zap.SugaredLogger
	slots     *semaphore.Weighted

	mu     sync.Mutex
	ready  []Worker
	active map[string]*session
	jobs   map[string]*Job
}

// NewQueue returns an empty queue; workers are spawned on demand.
func NewQueue(opts Options) (*Queue, error) {
	if opts.Transport == nil {
		return nil, errors.New("training queue needs a transport")
	}
	q := &Queue{
		transport: opts.Transport,
		config:    opts.Config,
		emitter:   opts.Emitter,
		log:       opts.Logger,
		active:    map[string]*session{},
		jobs:      map[string]*Job{},
	}
	if q.config == nil {
		q.config = am.Default()
	}
	if q.emitter == nil {
		q.emitter = pulse.NopEmitter{}
	}
	if q.log == nil {
		q.log = logger.ComponentLogger("training")
	}
	if opts.MaxWorkers > 0 {
		q.slots = semaphore.NewWeighted(int64(opts.MaxWorkers))
	}
	return q, nil
}

// StartTraining trains input on a worker and returns its output.
// Progress updates are passed to onProgress, which may be nil.
func (q *Queue) StartTraining(ctx context.Context, input pipeline.TrainInput, onProgress tools.ProgressFunc) (*pipeline.TrainOutput, error) {
	trainID := input.TrainID
	ctx = logger.WithTrainID(ctx, trainID)
	log := logger.LoggerFromContext(ctx, q.log).With(logger.FieldLanguage, input.LanguageCode)

	q.mu.Lock()
	if _, ok := q.active[trainID]; ok {
		q.mu.Unlock()
		return nil, &errors.TrainingAlreadyStartedError{TrainID: trainID}
	}
	s := &session{job: newJob(trainID, input.LanguageCode), finished: make(chan struct{})}
	q.active[trainID] = s
	q.jobs[trainID] = s.job
	q.mu.Unlock()
	defer close(s.finished)

	if q.slots != nil {
		if err := q.slots.Acquire(ctx, 1); err != nil {
			q.finish(trainID, nil, false, func(j *Job) { j.Cancel(err.Error()) })
			return nil, &errors.TrainingCanceledError{TrainID: trainID}
		}
		defer q.slots.Release(1)
	}

	w, err := q.takeWorker(ctx, trainID, log)
	if err != nil {
		q.finish(trainID, nil, false, func(j *Job) { j.Fail(err) })
		q.emitter.EmitError(trainID, err)
		return nil, err
	}

	q.mu.Lock()
	if s.canceled {
		q.mu.Unlock()
		log.Debugw("Training canceled before it started", logger.FieldWorkerID, w.ID())
		if _, err := q.route(ctx, CancelTraining{}, w); err != nil {
			log.Warnw("Failed to stop training worker", logger.FieldWorkerID, w.ID(), logger.FieldError, err)
		}
		drain(w)
		q.finish(trainID, nil, false, func(j *Job) { j.Cancel("canceled") })
		return nil, &errors.TrainingCanceledError{TrainID: trainID}
	}
	s.worker = w
	s.job.Start(w.ID())
	q.mu.Unlock()

	log.Debugw("Worker picked for training", logger.FieldWorkerID, w.ID())
	q.emitter.EmitStage(trainID, "training")

	output, err := q.runTraining(ctx, s, w, input, onProgress, log)
	switch {
	case err == nil:
		q.finish(trainID, w, true, func(j *Job) { j.Complete() })
		q.emitter.EmitComplete(trainID, map[string]interface{}{
			"contexts": len(output.Contexts),
			"intents":  len(output.SlotModelByIntent),
		})
		return output, nil
	case errors.IsTrainingCanceled(err):
		q.finish(trainID, nil, false, func(j *Job) { j.Cancel("canceled") })
	default:
		var exited *errors.TrainingExitedUnexpectedlyError
		keep := !errors.As(err, &exited)
		q.finish(trainID, w, keep, func(j *Job) { j.Fail(err) })
	}
	q.emitter.EmitError(trainID, err)
	return nil, err
}

// CancelTraining kills the worker of trainID and waits until the training
// has returned. Canceling an unknown training is a no-op.
func (q *Queue) CancelTraining(ctx context.Context, trainID string) error {
	q.mu.Lock()
	s, ok := q.active[trainID]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	s.canceled = true
	w := s.worker
	q.mu.Unlock()

	if w != nil {
		if _, err := q.route(ctx, CancelTraining{}, w); err != nil {
			return errors.Wrapf(err, "failed to cancel training %s", trainID)
		}
	}

	select {
	case <-s.finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	if w != nil {
		q.mu.Lock()
		q.ready = removeWorker(q.ready, w)
		q.mu.Unlock()
	}
	return nil
}

// Jobs returns a snapshot of the known jobs, oldest first.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Job returns the job of trainID.
func (q *Queue) Job(trainID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[trainID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// ReadyWorkers lists the ids of idle workers.
func (q *Queue) ReadyWorkers() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.ready))
	for i, w := range q.ready {
		ids[i] = w.ID()
	}
	return ids
}

// Close kills every worker. Running trainings fail.
func (q *Queue) Close() error {
	q.mu.Lock()
	workers := append([]Worker{}, q.ready...)
	for _, s := range q.active {
		s.canceled = true
		if s.worker != nil {
			workers = append(workers, s.worker)
		}
	}
	q.ready = nil
	q.mu.Unlock()

	var errs error
	for _, w := range workers {
		if err := w.Kill(); err != nil {
			errs = errors.WithSecondaryError(err, errs)
		}
	}
	return errs
}

// route performs an outgoing message: spawning, training or killing.
func (q *Queue) route(ctx context.Context, msg OutgoingMessage, w Worker) (Worker, error) {
	switch m := msg.(type) {
	case MakeNewWorker:
		return q.transport.Spawn(ctx, m)
	case StartTraining:
		env, err := Encode(m, "", w.ID(), m.Input.TrainID)
		if err != nil {
			return w, err
		}
		return w, w.Send(env)
	case CancelTraining:
		return w, w.Kill()
	default:
		return nil, errors.AssertionFailedf("unhandled outgoing message %T", msg)
	}
}

// takeWorker pops a ready worker, spawning one when there is none.
func (q *Queue) takeWorker(ctx context.Context, requestID string, log *zap.SugaredLogger) (Worker, error) {
	for {
		q.mu.Lock()
		n := len(q.ready)
		if n == 0 {
			q.mu.Unlock()
			break
		}
		w := q.ready[n-1]
		q.ready = q.ready[:n-1]
		q.mu.Unlock()
		if q.alive(w) {
			return w, nil
		}
		log.Infow("Dropping training worker that exited while idle", logger.FieldWorkerID, w.ID())
	}

	log.Debugw("About to make new training worker")
	q.emitter.EmitStage(requestID, "spawning worker")
	w, err := q.route(ctx, MakeNewWorker{Config: q.config, RequestID: requestID}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to spawn training worker")
	}

	for {
		select {
		case msg, ok := <-w.Messages():
			if !ok {
				return nil, errors.Newf("training worker %s went away before it was ready", w.ID())
			}
			switch m := msg.(type) {
			case WorkerReady:
				if m.RequestID == requestID {
					log.Debugw("Training worker ready", logger.FieldWorkerID, w.ID())
					return w, nil
				}
			case Log:
				q.relayLog(w, m)
			case TrainingExited:
				drain(w)
				return nil, errors.WithDetailf(
					&errors.TrainingExitedUnexpectedlyError{WorkerID: w.ID(), ExitCode: m.ExitCode, Signal: m.Signal},
					"worker exited during initialization")
			case TrainingCanceled:
				drain(w)
				return nil, &errors.TrainingCanceledError{TrainID: requestID}
			case TrainingProgress, TrainingDone, TrainingError:
				log.Warnw("Unexpected message from a starting worker", "type", msg.MessageType())
			default:
				return nil, errors.AssertionFailedf("unhandled incoming message %T", msg)
			}
		case <-ctx.Done():
			_ = w.Kill()
			drain(w)
			return nil, ctx.Err()
		}
	}
}

// alive consumes what an idle worker sent since its last training and
// reports whether it is still running.
func (q *Queue) alive(w Worker) bool {
	for {
		select {
		case msg, ok := <-w.Messages():
			if !ok {
				return false
			}
			switch m := msg.(type) {
			case Log:
				q.relayLog(w, m)
			case TrainingExited, TrainingCanceled:
				drain(w)
				return false
			case WorkerReady, TrainingProgress, TrainingDone, TrainingError:
				// stale
			default:
				q.log.Warnw("Unhandled message from an idle worker", logger.FieldWorkerID, w.ID(), "type", msg.MessageType())
			}
		default:
			return true
		}
	}
}

// runTraining sends the input to w and waits for the outcome.
func (q *Queue) runTraining(ctx context.Context, s *session, w Worker, input pipeline.TrainInput, onProgress tools.ProgressFunc, log *zap.SugaredLogger) (*pipeline.TrainOutput, error) {
	trainID := input.TrainID
	if _, err := q.route(ctx, StartTraining{Input: input}, w); err != nil {
		_ = w.Kill()
		drain(w)
		return nil, &errors.TrainingExitedUnexpectedlyError{WorkerID: w.ID(), ExitCode: -1}
	}

	done := ctx.Done()
	for {
		select {
		case msg, ok := <-w.Messages():
			if !ok {
				return nil, &errors.TrainingExitedUnexpectedlyError{WorkerID: w.ID(), ExitCode: -1}
			}
			switch m := msg.(type) {
			case TrainingProgress:
				q.mu.Lock()
				s.job.UpdateProgress(m.Progress)
				q.mu.Unlock()
				q.emitter.EmitProgress(trainID, m.Progress)
				if onProgress != nil {
					onProgress(m.Progress)
				}
			case Log:
				q.relayLog(w, m)
			case TrainingDone:
				output := m.Output
				return &output, nil
			case TrainingError:
				q.mu.Lock()
				canceled := s.canceled
				q.mu.Unlock()
				if canceled {
					// the kill interrupted the pipeline before the stream closed
					drain(w)
					return nil, &errors.TrainingCanceledError{TrainID: trainID}
				}
				return nil, errors.Wrapf(errors.Deserialize(m.Error), "training %s failed", trainID)
			case TrainingCanceled:
				drain(w)
				return nil, &errors.TrainingCanceledError{TrainID: trainID}
			case TrainingExited:
				drain(w)
				q.mu.Lock()
				canceled := s.canceled
				q.mu.Unlock()
				if canceled {
					return nil, &errors.TrainingCanceledError{TrainID: trainID}
				}
				return nil, &errors.TrainingExitedUnexpectedlyError{WorkerID: w.ID(), ExitCode: m.ExitCode, Signal: m.Signal}
			case WorkerReady:
				log.Debugw("Ignoring late ready message", logger.FieldWorkerID, w.ID())
			default:
				return nil, errors.AssertionFailedf("unhandled incoming message %T", msg)
			}
		case <-done:
			done = nil
			q.mu.Lock()
			s.canceled = true
			q.mu.Unlock()
			log.Debugw("Context done, killing training worker", logger.FieldWorkerID, w.ID())
			_, _ = q.route(context.Background(), CancelTraining{}, w)
		}
	}
}

// finish ends the session of trainID. w goes back to the front of the
// ready workers when keep is set.
func (q *Queue) finish(trainID string, w Worker, keep bool, update func(*Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.active[trainID]; ok {
		update(s.job)
		delete(q.active, trainID)
	}
	if keep && w != nil {
		q.ready = append([]Worker{w}, q.ready...)
	}
	q.pruneJobs()
}

func (q *Queue) pruneJobs() {
	var finished []*Job
	for _, j := range q.jobs {
		if j.Status.Done() {
			finished = append(finished, j)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	sort.Slice(finished, func(a, b int) bool { return finished[a].UpdatedAt.Before(finished[b].UpdatedAt) })
	for _, j := range finished[:len(finished)-maxFinishedJobs] {
		delete(q.jobs, j.ID)
	}
}

func (q *Queue) relayLog(w Worker, m Log) {
	kv := []interface{}{logger.FieldWorkerID, w.ID(), logger.FieldRequestID, m.RequestID}
	for _, k := range sortedFieldKeys(m.Log.Fields) {
		if k == logger.FieldWorkerID {
			continue
		}
		kv = append(kv, k, m.Log.Fields[k])
	}
	switch m.Log.Level {
	case "debug":
		q.log.Debugw(m.Log.Message, kv...)
	case "info":
		q.log.Infow(m.Log.Message, kv...)
	case "warn":
		q.log.Warnw(m.Log.Message, kv...)
	default:
		q.log.Errorw(m.Log.Message, kv...)
	}
}

func sortedFieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func removeWorker(workers []Worker, w Worker) []Worker {
	out := workers[:0]
	for _, x := range workers {
		if x.ID() != w.ID() {
			out = append(out, x)
		}
	}
	return out
}
