package broker

import (
	"bufio"
	"io"
	"sync"
)

// ---------------------------------------------------------------------------
// connWriter: dedicated write goroutine per connection.
//
// The control loop never writes to a socket itself. It hands frames to the
// writer's bounded queue and moves on:
//   - Drains all available frames before flushing (write coalescing)
//   - Uses bufio.Writer to batch small frames into fewer syscalls
//   - Never blocks the control loop; a full queue is reported to the caller
//
// With bufSize <= 0 every frame is written on its own, which keeps message
// boundaries for WebSocket transports.
// ---------------------------------------------------------------------------

type connWriter struct {
	ch    chan []byte
	done  chan struct{}
	stats *connStats

	errOnce sync.Once
	onError func(error)
}

func newConnWriter(dst io.Writer, depth, bufSize int, stats *connStats, onError func(error)) *connWriter {
	cw := &connWriter{
		ch:      make(chan []byte, depth),
		done:    make(chan struct{}),
		stats:   stats,
		onError: onError,
	}
	go cw.run(dst, bufSize)
	return cw
}

func (cw *connWriter) fail(err error) {
	cw.errOnce.Do(func() {
		if cw.onError != nil {
			cw.onError(err)
		}
	})
}

func (cw *connWriter) run(dst io.Writer, bufSize int) {
	defer close(cw.done)

	if bufSize <= 0 {
		cw.runUnbuffered(dst)
		return
	}

	bw := bufio.NewWriterSize(dst, bufSize)
	var failed bool

	for frame := range cw.ch {
		if failed {
			continue
		}
		channelClosed := false
		cw.write(bw, frame)

		// Drain all available frames before flushing (write coalescing).
		drained := true
		for drained {
			select {
			case f, ok := <-cw.ch:
				if !ok {
					channelClosed = true
					drained = false
					continue
				}
				cw.write(bw, f)
			default:
				drained = false
			}
		}

		if err := bw.Flush(); err != nil {
			// Keep draining so close() never blocks; the frames go nowhere.
			failed = true
			cw.fail(err)
		}
		if channelClosed {
			return
		}
	}
	if !failed {
		if err := bw.Flush(); err != nil {
			cw.fail(err)
		}
	}
}

func (cw *connWriter) write(bw *bufio.Writer, frame []byte) {
	// Errors stick in the bufio.Writer and surface on Flush.
	_, _ = bw.Write(frame)
	cw.stats.framesOut.Add(1)
	cw.stats.bytesOut.Add(uint64(len(frame)))
}

func (cw *connWriter) runUnbuffered(dst io.Writer) {
	var failed bool
	for frame := range cw.ch {
		if failed {
			continue
		}
		if _, err := dst.Write(frame); err != nil {
			failed = true
			cw.fail(err)
			continue
		}
		cw.stats.framesOut.Add(1)
		cw.stats.bytesOut.Add(uint64(len(frame)))
	}
}

// enqueue hands a frame to the writer without blocking. The frame must not
// be modified afterwards; one frame may be shared by several writers.
func (cw *connWriter) enqueue(frame []byte) bool {
	if len(frame) == 0 {
		return true
	}
	select {
	case cw.ch <- frame:
		return true
	default:
		// Channel full, slow consumer.
		return false
	}
}

// close stops accepting frames and waits until queued ones are written or
// the writer has failed. Only the control loop calls enqueue and close.
func (cw *connWriter) close() {
	close(cw.ch)
	<-cw.done
}
