package encoder

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	result "github.com/hanpama/gqlhttp/internal/result"
)

// emitter writes one payload and flushes it to the client.
type emitter func(res *result.ExecutionResult) error

type pulled struct {
	res *result.ExecutionResult
	err error
}

// drain writes every outcome of resp in order. Synchronous outcomes are
// emitted as one payload each; streams are pulled one payload at a time, the
// next pull starting only after the previous payload was emitted. ping runs
// on every heartbeat tick while a pull is pending. drain returns when all
// sources are done, the context is cancelled or a write fails; in every case
// the streams of resp are closed.
func drain(ctx context.Context, resp result.Response, heartbeat time.Duration, emit emitter, ping func() error) error {
	defer resp.Close()

	var tick <-chan time.Time
	if heartbeat > 0 && ping != nil {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for _, o := range resp.Outcomes {
		if o.Stream == nil {
			if err := emit(o.Result); err != nil {
				return err
			}
			continue
		}
		if err := drainStream(ctx, o.Stream, tick, emit, ping); err != nil {
			return err
		}
	}
	return nil
}

func drainStream(ctx context.Context, s result.Stream, tick <-chan time.Time, emit emitter, ping func() error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := make(chan pulled, 1)
		go func() {
			res, err := s.Next(ctx)
			next <- pulled{res: res, err: err}
		}()

		var p pulled
	wait:
		for {
			select {
			case p = <-next:
				break wait
			case <-tick:
				if err := ping(); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		switch {
		case errors.Is(p.err, io.EOF):
			return nil
		case p.err != nil:
			if err := ctx.Err(); err != nil {
				return err
			}
			return emit(result.FromError(p.err))
		case p.res == nil:
			continue
		}
		if err := emit(p.res); err != nil {
			return err
		}
		if p.res.Final() {
			return nil
		}
	}
}

// flush pushes buffered bytes to the client. Writers that cannot flush are
// tolerated.
func flush(w http.ResponseWriter) error {
	err := http.NewResponseController(w).Flush()
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}
