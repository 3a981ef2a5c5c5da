package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	topic   string
	payload []byte
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
	closed   bool
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message{topic, payload})
	return nil
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "plant/node/1/status", Topic("plant", 1))
	assert.Equal(t, "node/12/status", Topic("", 12))
}

func TestReport(t *testing.T) {
	publisher := &recordingPublisher{}
	reporter := NewReporter(epos.NewMotorNode(1), publisher, "eposmaster", 0, nil)
	require.Nil(t, reporter.Report())
	require.Equal(t, 1, publisher.count())
	assert.Equal(t, "eposmaster/node/1/status", publisher.messages[0].topic)

	var snapshot epos.Snapshot
	require.Nil(t, json.Unmarshal(publisher.messages[0].payload, &snapshot))
	assert.EqualValues(t, 1, snapshot.NodeId)
	assert.Equal(t, "UNKNOWN", snapshot.NMTState)

	publisher.err = errors.New("broker down")
	assert.Error(t, reporter.Report())
	assert.EqualValues(t, 1, reporter.Published())
	assert.EqualValues(t, 1, reporter.Failed())
}

func TestRun(t *testing.T) {
	publisher := &recordingPublisher{}
	reporter := NewReporter(epos.NewMotorNode(2), publisher, "", 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- reporter.Run(ctx) }()
	assert.Eventually(t, func() bool { return publisher.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, publisher.closed)
}
