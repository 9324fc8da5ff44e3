// Package export moves figures out of the process: figure events to Kafka
// and figure snapshots to object storage.
package export

import (
	"context"

	"github.com/turtacn/ertviz/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ertviz/internal/infrastructure/storage/minio"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, msg *kafka.ProducerMessage) error
}

// SnapshotWriter is satisfied by *minio.SnapshotStore.
type SnapshotWriter interface {
	Save(ctx context.Context, s minio.Snapshot) (*minio.SnapshotRef, error)
}

// Recorder receives export outcomes.  *prometheus.AppMetrics satisfies it.
type Recorder interface {
	RecordEvent(eventType, sink string)
	RecordRender(err error)
	RecordSnapshot(err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string) {}
func (nopRecorder) RecordRender(error)         {}
func (nopRecorder) RecordSnapshot(error)       {}
