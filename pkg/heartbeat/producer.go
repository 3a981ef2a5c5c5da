package heartbeat

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const DefaultPeriod = 1000 * time.Millisecond

// Clock abstracts absolute time scheduling
type Clock interface {
	Now() time.Time
	// SleepUntil blocks until t or until ctx is done
	SleepUntil(ctx context.Context, t time.Time) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) SleepUntil(ctx context.Context, t time.Time) error {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// Sender emits one heartbeat on behalf of producerId
type Sender interface {
	SendHeartbeat(producerId uint8) error
}

// Producer broadcasts the heartbeat of a node at a fixed rate.
// Every wake up is scheduled from the previous scheduled wake up,
// processing time and late wake ups never shift the following ones.
type Producer struct {
	sender Sender
	nodeId uint8
	period time.Duration
	clock  Clock
	logger *log.Entry
	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewProducer(sender Sender, nodeId uint8, period time.Duration, clock Clock, logger *log.Entry) *Producer {
	if period <= 0 {
		period = DefaultPeriod
	}
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Producer{
		sender: sender,
		nodeId: nodeId,
		period: period,
		clock:  clock,
		logger: logger.WithFields(log.Fields{"service": "[HEARTBEAT]", "node": nodeId}),
	}
}

// Run until ctx is cancelled
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Infof("producing heartbeat every %v", p.period)
	next := p.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.sender.SendHeartbeat(p.nodeId); err != nil {
			p.failed.Inc()
			p.logger.Warnf("failed to send heartbeat : %v", err)
		} else {
			p.sent.Inc()
		}
		next = next.Add(p.period)
		if err := p.clock.SleepUntil(ctx, next); err != nil {
			p.logger.Info("stopped")
			return err
		}
	}
}

func (p *Producer) Period() time.Duration {
	return p.period
}

func (p *Producer) Sent() uint64 {
	return p.sent.Load()
}

func (p *Producer) Failed() uint64 {
	return p.failed.Load()
}
