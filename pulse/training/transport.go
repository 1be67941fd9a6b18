package training

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
)

// Worker is the queue's handle on one training worker.
type Worker interface {
	ID() string
	// PID is the worker's process id, 0 when it shares the queue's process.
	PID() int
	// Send delivers a message to the worker.
	Send(env Envelope) error
	// Messages yields what the worker sends. After the worker is gone the
	// channel yields TrainingCanceled when Kill was called, TrainingExited
	// otherwise, and is closed.
	Messages() <-chan IncomingMessage
	// Kill stops the worker without waiting for it.
	Kill() error
}

// Transport creates workers.
type Transport interface {
	Spawn(ctx context.Context, msg MakeNewWorker) (Worker, error)
}

// messageBuffer is how many messages a worker can send ahead of the queue.
const messageBuffer = 256

// streamWorker speaks newline-delimited JSON envelopes over a pair of
// streams. Both transports build on it.
type streamWorker struct {
	id  string
	pid int
	log *zap.SugaredLogger

	encMu sync.Mutex
	enc   *json.Encoder
	in    io.Closer

	msgs   chan IncomingMessage
	killed atomic.Bool
	kill   func() error
}

func newStreamWorker(id string, pid int, in io.WriteCloser, log *zap.SugaredLogger, kill func() error) *streamWorker {
	return &streamWorker{
		id:   id,
		pid:  pid,
		log:  log,
		enc:  json.NewEncoder(in),
		in:   in,
		msgs: make(chan IncomingMessage, messageBuffer),
		kill: kill,
	}
}

func (w *streamWorker) ID() string                       { return w.id }
func (w *streamWorker) PID() int                         { return w.pid }
func (w *streamWorker) Messages() <-chan IncomingMessage { return w.msgs }

func (w *streamWorker) Send(env Envelope) error {
	w.encMu.Lock()
	defer w.encMu.Unlock()
	if err := w.enc.Encode(env); err != nil {
		return errors.Wrapf(err, "failed to send %s to worker %s", env.Type, w.id)
	}
	return nil
}

func (w *streamWorker) Kill() error {
	if !w.killed.CompareAndSwap(false, true) {
		return nil
	}
	w.in.Close()
	return w.kill()
}

// pump forwards what the worker writes to out until it ends, then waits
// for the worker and reports how it went away.
func (w *streamWorker) pump(out io.Reader, wait func() (exitCode int, signal string)) {
	dec := json.NewDecoder(out)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if err != io.EOF && !w.killed.Load() {
				w.log.Debugw("Worker stream ended", logger.FieldWorkerID, w.id, logger.FieldError, err)
			}
			break
		}
		msg, err := DecodeIncoming(env)
		if err != nil {
			w.log.Warnw("Dropping malformed worker message", logger.FieldWorkerID, w.id, logger.FieldError, err)
			continue
		}
		w.msgs <- msg
	}

	code, signal := wait()
	if w.killed.Load() {
		w.msgs <- TrainingCanceled{}
	} else {
		w.msgs <- TrainingExited{ExitCode: code, Signal: signal}
	}
	close(w.msgs)
}

// drain discards whatever w still sends.
func drain(w Worker) {
	go func() {
		for range w.Messages() {
		}
	}()
}
