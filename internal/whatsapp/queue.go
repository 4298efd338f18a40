package whatsapp

import (
	"context"
	"log"
	"time"
)

// MediaSender is what delivery jobs need from the messaging client.
type MediaSender interface {
	Enabled() bool
	SendMedia(ctx context.Context, to, mediaURL, caption string) (string, error)
}

// StatusRecorder records delivery outcomes; satisfied by store.MediaIndex.
type StatusRecorder interface {
	MarkDelivered(id string) error
}

// Job is one queued outbound delivery.
type Job struct {
	To       string
	MediaURL string
	Caption  string
	// MediaID ties the job back to the media index; may be empty for assets
	// the index does not track.
	MediaID string
}

// Worker consumes delivery jobs on a background goroutine so webhook
// responses are never blocked by outbound sends. Failures are logged; there
// is no completion signal back to the enqueuer.
type Worker struct {
	jobs   chan Job
	sender MediaSender
	index  StatusRecorder
}

func NewWorker(sender MediaSender, index StatusRecorder, buffer int) *Worker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Worker{jobs: make(chan Job, buffer), sender: sender, index: index}
}

// Start launches the consumer goroutine; it stops when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-w.jobs:
				w.process(ctx, job)
			}
		}
	}()
}

// Enqueue adds a job without blocking. A full queue drops the job, which is
// acceptable under the best-effort delivery model.
func (w *Worker) Enqueue(job Job) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		log.Printf("delivery queue full, dropping job for %s", job.To)
		return false
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	if !w.sender.Enabled() {
		log.Printf("delivery disabled, skipping job for %s", job.To)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	sid, err := w.sender.SendMedia(sendCtx, job.To, job.MediaURL, job.Caption)
	if err != nil {
		log.Printf("delivery to %s failed: %v", job.To, err)
		return
	}
	log.Printf("delivered media to %s (sid %s)", job.To, sid)
	if job.MediaID != "" && w.index != nil {
		if err := w.index.MarkDelivered(job.MediaID); err != nil {
			log.Printf("recording delivery of %s: %v", job.MediaID, err)
		}
	}
}
