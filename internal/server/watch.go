package server

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"leaffliction/internal/pipeline"
	"leaffliction/internal/tasks"
)

// SubmitEvents turns every settled image event into a transform job writing
// to output. Images this tool produced are ignored so outputs landing in a
// watched directory do not loop.
func SubmitEvents(ctx context.Context, events <-chan tasks.FileSystemEvent, submit func(pipeline.Job) error, output string, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if tasks.IsDerivedImage(ev.Path) {
				log.Debug("skipping derived image", "path", ev.Path)
				continue
			}
			job := pipeline.Job{
				ID:        "watch-" + uuid.NewString(),
				Type:      pipeline.JobTransform,
				InputPath: ev.Path,
				Output:    output,
			}
			if err := submit(job); err != nil {
				log.Warn("failed to queue watched image", "path", ev.Path, "error", err)
				continue
			}
			log.Info("queued watched image", "path", ev.Path, "operation", ev.Operation, "id", job.ID)
		}
	}
}
