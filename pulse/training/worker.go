package training

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/pipeline"
)

// EnvFactory builds what a worker trains with from the configuration it
// was started with. Logs written to log reach the queue.
type EnvFactory func(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error)

// ServeOptions configures Serve.
type ServeOptions struct {
	In        io.Reader
	Out       io.Writer
	WorkerID  string
	RequestID string
	Config    *am.Config
	NewEnv    EnvFactory
	// Level filters the logs sent to the queue (default: debug).
	Level zapcore.LevelEnabler
}

// ServeOptionsFromEnv reads the worker identity and configuration a
// ProcessTransport passes through the environment.
func ServeOptionsFromEnv() (ServeOptions, error) {
	opts := ServeOptions{
		In:        os.Stdin,
		Out:       os.Stdout,
		WorkerID:  os.Getenv(EnvWorkerID),
		RequestID: os.Getenv(EnvRequestID),
	}
	if opts.WorkerID == "" {
		return opts, errors.Newf("%s is not set; workers are started by the training queue", EnvWorkerID)
	}
	cfg := am.Default()
	if raw := os.Getenv(EnvWorkerConfig); raw != "" {
		if err := json.Unmarshal([]byte(raw), cfg); err != nil {
			return opts, errors.Wrapf(err, "invalid %s", EnvWorkerConfig)
		}
	}
	opts.Config = cfg
	return opts, nil
}

type workerConn struct {
	mu        sync.Mutex
	enc       *json.Encoder
	workerID  string
	requestID string
}

func (c *workerConn) send(msg IncomingMessage) error {
	env, err := Encode(msg, c.workerID, "", c.requestID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(env)
}

// Serve is the worker side of the protocol. It builds its environment,
// announces itself with WorkerReady and then trains every StartTraining
// it receives, one at a time, until In is closed or ctx is done.
func Serve(ctx context.Context, opts ServeOptions) error {
	if opts.NewEnv == nil {
		return errors.New("training worker needs an environment factory")
	}
	conn := &workerConn{enc: json.NewEncoder(opts.Out), workerID: opts.WorkerID, requestID: opts.RequestID}

	level := opts.Level
	if level == nil {
		level = zapcore.DebugLevel
	}
	log := zap.New(newIPCCore(level, func(entry LogEntry) {
		_ = conn.send(Log{Log: entry, RequestID: opts.RequestID})
	})).Sugar().With(logger.FieldWorkerID, opts.WorkerID)

	log.Infow("Training worker started", logger.FieldPID, os.Getpid())

	cfg := opts.Config
	if cfg == nil {
		cfg = am.Default()
	}
	env, err := opts.NewEnv(ctx, cfg, log)
	if err != nil {
		log.Errorw("Failed to initialize training tools", logger.FieldError, err)
		return errors.Wrap(err, "failed to initialize training tools")
	}
	if env.Logger == nil {
		env.Logger = log
	}

	if err := conn.send(WorkerReady{RequestID: opts.RequestID}); err != nil {
		return err
	}

	dec := json.NewDecoder(opts.In)
	for {
		var envelope Envelope
		if err := dec.Decode(&envelope); err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to read from training queue")
		}
		msg, err := DecodeOutgoing(envelope)
		if err != nil {
			log.Warnw("Ignoring malformed message", logger.FieldError, err)
			continue
		}

		switch m := msg.(type) {
		case StartTraining:
			if err := train(ctx, conn, env, m.Input, log); err != nil {
				return err
			}
		case CancelTraining:
			return nil
		case MakeNewWorker:
			log.Warnw("Worker cannot spawn workers", logger.FieldRequestID, m.RequestID)
		default:
			return errors.AssertionFailedf("unhandled outgoing message %T", msg)
		}
	}
}

func train(ctx context.Context, conn *workerConn, env pipeline.Env, input pipeline.TrainInput, log *zap.SugaredLogger) error {
	log = log.With(logger.FieldTrainID, input.TrainID)
	env.Logger = log

	output, err := pipeline.Train(ctx, input, env, func(p float64) {
		_ = conn.send(TrainingProgress{Progress: p})
	})
	if err != nil {
		log.Debugw("Training failed", logger.FieldError, err)
		return conn.send(TrainingError{Error: errors.Serialize(err)})
	}
	return conn.send(TrainingDone{Output: *output})
}
