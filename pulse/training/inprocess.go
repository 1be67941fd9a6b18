package training

import (
	"context"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/nlu/logger"
)

// InProcessTransport runs workers as goroutines talking over pipes. The
// protocol is the same as with worker processes.
type InProcessTransport struct {
	NewEnv EnvFactory
	Logger *zap.SugaredLogger
}

func (t *InProcessTransport) Spawn(ctx context.Context, msg MakeNewWorker) (Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := t.Logger
	if log == nil {
		log = logger.ComponentLogger("training")
	}

	id := uuid.NewString()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		err := Serve(workerCtx, ServeOptions{
			In:        inR,
			Out:       outW,
			WorkerID:  id,
			RequestID: msg.RequestID,
			Config:    msg.Config,
			NewEnv:    t.NewEnv,
		})
		outW.Close()
		done <- err
	}()

	w := newStreamWorker(id, 0, inW, log.With(logger.FieldWorkerID, id), func() error {
		cancel()
		inR.Close()
		outR.Close()
		return nil
	})
	go w.pump(outR, func() (int, string) {
		err := <-done
		cancel()
		if w.killed.Load() {
			return -1, "killed"
		}
		if err != nil {
			return 1, ""
		}
		return 0, ""
	})
	return w, nil
}
