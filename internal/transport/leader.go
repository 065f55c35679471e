package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/pkg/logger"
)

const (
	// InstanceBucket is the KV bucket holding per-instance markers.
	InstanceBucket = "intake_instances"

	instanceMarkerTTL = 10 * time.Minute
)

type instanceMarker struct {
	InstanceID string    `json:"instance_id"`
	StartedAt  time.Time `json:"started_at"`
}

// Leadership is a soft leadership marker over a JetStream KV bucket. The
// instance with the most recent start wins. It is advisory only: every
// check fails open, so a KV outage never stops background work, it only
// risks duplicate sweeps. The persistence layer's last-writer-wins
// semantics make duplicates harmless.
type Leadership struct {
	kv         jetstream.KeyValue
	instanceID string
	startedAt  time.Time
	logger     *logger.Logger
}

// NewLeadership ensures the instance bucket exists and registers this
// instance. A KV setup failure degrades to permanent fail-open leadership.
func NewLeadership(ctx context.Context, client *Client, instanceID string, log *logger.Logger) *Leadership {
	l := &Leadership{
		instanceID: instanceID,
		startedAt:  time.Now().UTC(),
		logger:     log,
	}

	kv, err := client.JetStream().CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      InstanceBucket,
		Description: "Intake engine instance markers for soft leadership",
		TTL:         instanceMarkerTTL,
	})
	if err != nil {
		log.Warn("instance bucket unavailable, assuming leadership", zap.Error(err))
		return l
	}
	l.kv = kv
	l.register(ctx)
	return l
}

// register writes or refreshes this instance's marker.
func (l *Leadership) register(ctx context.Context) {
	if l.kv == nil {
		return
	}
	data, err := json.Marshal(instanceMarker{InstanceID: l.instanceID, StartedAt: l.startedAt})
	if err != nil {
		return
	}
	if _, err := l.kv.Put(ctx, l.instanceID, data); err != nil {
		l.logger.Warn("failed to write instance marker", zap.Error(err))
	}
}

// IsLeader reports whether this instance should run singleton background
// work. Any error answers yes.
func (l *Leadership) IsLeader(ctx context.Context) bool {
	if l.kv == nil {
		return true
	}

	l.register(ctx)

	keys, err := l.kv.Keys(ctx)
	if err != nil {
		l.logger.Warn("failed to list instance markers, assuming leadership", zap.Error(err))
		return true
	}

	latest := l.startedAt
	leader := l.instanceID
	for _, key := range keys {
		entry, err := l.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var m instanceMarker
		if err := json.Unmarshal(entry.Value(), &m); err != nil {
			continue
		}
		// Most recent start wins; instance ID breaks exact ties.
		if m.StartedAt.After(latest) || (m.StartedAt.Equal(latest) && m.InstanceID > leader) {
			latest = m.StartedAt
			leader = m.InstanceID
		}
	}
	return leader == l.instanceID
}
