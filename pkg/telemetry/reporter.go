package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samsamfire/eposmaster/pkg/epos"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const DefaultPeriod = 1000 * time.Millisecond

// Source of node snapshots, implemented by [epos.MotorNode]
type Source interface {
	NodeId() uint8
	Snapshot() epos.Snapshot
}

// Reporter periodically publishes the state of a node on
// <prefix>/node/<id>/status
type Reporter struct {
	source    Source
	publisher Publisher
	topic     string
	period    time.Duration
	logger    *log.Entry
	published atomic.Uint64
	failed    atomic.Uint64
}

func NewReporter(source Source, publisher Publisher, prefix string, period time.Duration, logger *log.Entry) *Reporter {
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Reporter{
		source:    source,
		publisher: publisher,
		topic:     Topic(prefix, source.NodeId()),
		period:    period,
		logger:    logger.WithFields(log.Fields{"service": "[TELEMETRY]", "node": source.NodeId()}),
	}
}

func Topic(prefix string, nodeId uint8) string {
	if prefix == "" {
		return fmt.Sprintf("node/%d/status", nodeId)
	}
	return fmt.Sprintf("%s/node/%d/status", prefix, nodeId)
}

// Report publishes one snapshot
func (r *Reporter) Report() error {
	payload, err := json.Marshal(r.source.Snapshot())
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(r.topic, payload); err != nil {
		r.failed.Inc()
		return err
	}
	r.published.Inc()
	r.logger.Debugf("published %v bytes on %v", len(payload), r.topic)
	return nil
}

// Run reports every period until ctx is cancelled, then closes the publisher
func (r *Reporter) Run(ctx context.Context) error {
	defer r.publisher.Close()
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	r.logger.Infof("publishing on %v every %v", r.topic, r.period)
	for {
		if err := r.Report(); err != nil {
			r.logger.Warnf("publish failed : %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reporter) Published() uint64 {
	return r.published.Load()
}

func (r *Reporter) Failed() uint64 {
	return r.failed.Load()
}
