package training

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
)

// Environment variables of a worker process.
const (
	EnvWorkerID     = "NLU_WORKER_ID"
	EnvRequestID    = "NLU_REQUEST_ID"
	EnvWorkerConfig = "NLU_WORKER_CONFIG"
)

// WorkerCommand is the subcommand a worker process runs.
const WorkerCommand = "worker"

// ProcessTransport runs every worker as "<Command...> worker", the
// caller's own binary by default.
type ProcessTransport struct {
	Command []string
	Logger  *zap.SugaredLogger
}

// NewProcessTransport splits command like a shell would, so it may carry
// arguments ("go run ./cmd/nlu"). An empty command is the current executable.
func NewProcessTransport(command string, log *zap.SugaredLogger) (*ProcessTransport, error) {
	argv, err := workerArgv(command)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.ComponentLogger("training")
	}
	return &ProcessTransport{Command: argv, Logger: log}, nil
}

func workerArgv(command string) ([]string, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid worker command %q", command)
	}
	if len(argv) > 0 {
		return argv, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "failed to locate the current executable")
	}
	return []string{self}, nil
}

func (t *ProcessTransport) Spawn(ctx context.Context, msg MakeNewWorker) (Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	config, err := json.Marshal(msg.Config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode worker config")
	}

	id := uuid.NewString()
	// not bound to ctx: the worker outlives the request spawning it
	args := append(append([]string{}, t.Command[1:]...), WorkerCommand)
	cmd := exec.Command(t.Command[0], args...)
	cmd.Env = append(os.Environ(),
		EnvWorkerID+"="+id,
		EnvRequestID+"="+msg.RequestID,
		EnvWorkerConfig+"="+string(config),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open worker stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open worker stderr")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start training worker %s", t.Command[0])
	}

	log := t.Logger.With(logger.FieldWorkerID, id, logger.FieldPID, cmd.Process.Pid)
	log.Debugw("Training worker process started", logger.FieldRequestID, msg.RequestID)

	go forwardStderr(stderr, log)

	w := newStreamWorker(id, cmd.Process.Pid, stdin, log, cmd.Process.Kill)
	go w.pump(stdout, func() (int, string) {
		_ = cmd.Wait()
		return exitStatus(cmd.ProcessState)
	})
	return w, nil
}

func forwardStderr(r io.Reader, log *zap.SugaredLogger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debugw("worker stderr", "line", scanner.Text())
	}
}

func exitStatus(state *os.ProcessState) (int, string) {
	if state == nil {
		return -1, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return state.ExitCode(), ws.Signal().String()
	}
	return state.ExitCode(), ""
}
