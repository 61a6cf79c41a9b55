package service

import (
	"context"
	"time"

	"github.com/foliodesk/be-folio-core/internal/repository"
)

// dispatchChunk is one paced batch of recipients handed to the background
// dispatcher after the synchronous first chunk went out.
type dispatchChunk struct {
	recordCode string
	orgUnit    string
	event      repository.EventKind
	message    string
	recipients []*repository.Actor
}

// Start runs the background dispatcher until ctx is canceled. Chunks already
// queued when cancellation hits are still delivered so the notification log
// stays truthful about what was attempted.
func (s *NotificationService) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				s.drain()
				return
			case chunk := <-s.queue:
				s.deliverChunk(chunk)
				if s.chunkDelay > 0 {
					select {
					case <-ctx.Done():
						s.drain()
						return
					case <-time.After(s.chunkDelay):
					}
				}
			}
		}
	}()
}

// Stop blocks until the dispatcher goroutine has exited. Call after canceling
// the context passed to Start.
func (s *NotificationService) Stop() {
	<-s.done
}

func (s *NotificationService) drain() {
	for {
		select {
		case chunk := <-s.queue:
			s.deliverChunk(chunk)
		default:
			return
		}
	}
}

func (s *NotificationService) deliverChunk(chunk dispatchChunk) {
	// Sends use a fresh timeout rather than the request context that
	// enqueued the chunk, which is long gone.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := &DispatchReport{}
	for _, recipient := range chunk.recipients {
		s.sendOne(ctx, chunk.recordCode, chunk.orgUnit, chunk.event, chunk.message, recipient, report)
	}

	s.log.Debug().
		Str("record_code", chunk.recordCode).
		Str("event", string(chunk.event)).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Msg("deferred notification chunk delivered")
}
