package nmt

import (
	"context"
	"fmt"
	"time"

	"github.com/samsamfire/eposmaster/pkg/heartbeat"
	log "github.com/sirupsen/logrus"
)

const DefaultSettle = 1000 * time.Millisecond

// Requester is the network side of a remote node
type Requester interface {
	NodeId() uint8
	RequestNMTTransition(command Command) error
	NMTState() State
	ConfigureHeartbeatConsumer(producerId uint8, timeout time.Duration) error
}

// Allowed reports whether command may be sent to a node in state from.
// Resets are always allowed, operational can only be entered from pre-operational.
// Entering pre-operational again is accepted, nodes boot into it on their own.
func Allowed(from State, command Command) bool {
	switch command {
	case CommandResetNode, CommandResetCommunication, CommandEnterPreOperational:
		return true
	case CommandEnterOperational:
		return from == StatePreOperational
	case CommandEnterStopped:
		return from == StatePreOperational || from == StateOperational
	}
	return false
}

// Sleep for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Lifecycle drives a remote node through its NMT states.
// Every transition blocks until the request has been sent, then waits
// a settle delay so that the node has applied the new state.
type Lifecycle struct {
	requester Requester
	settle    time.Duration
	logger    *log.Entry
}

func NewLifecycle(requester Requester, settle time.Duration, logger *log.Entry) *Lifecycle {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Lifecycle{
		requester: requester,
		settle:    settle,
		logger:    logger.WithFields(log.Fields{"service": "[NMT]", "node": requester.NodeId()}),
	}
}

func (l *Lifecycle) State() State {
	return l.requester.NMTState()
}

// Transition sends command after checking it is allowed from the current state
func (l *Lifecycle) Transition(ctx context.Context, command Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := l.requester.NMTState()
	if !Allowed(from, command) {
		l.logger.Warnf("refusing %v while %v", command, from)
		return fmt.Errorf("%w : %v while %v", ErrInvalidTransition, command, from)
	}
	if err := l.requester.RequestNMTTransition(command); err != nil {
		l.logger.Errorf("%v failed : %v", command, err)
		return err
	}
	l.logger.Infof("%v | %v ==> %v", command, from, l.requester.NMTState())
	return Sleep(ctx, l.settle)
}

func (l *Lifecycle) EnterPreOperational(ctx context.Context) error {
	return l.Transition(ctx, CommandEnterPreOperational)
}

func (l *Lifecycle) EnterOperational(ctx context.Context) error {
	return l.Transition(ctx, CommandEnterOperational)
}

func (l *Lifecycle) EnterStopped(ctx context.Context) error {
	return l.Transition(ctx, CommandEnterStopped)
}

func (l *Lifecycle) ResetNode(ctx context.Context) error {
	return l.Transition(ctx, CommandResetNode)
}

func (l *Lifecycle) ResetCommunication(ctx context.Context) error {
	return l.Transition(ctx, CommandResetCommunication)
}

// ConfigureHeartbeatConsumer makes the node monitor the heartbeat of
// record.ProducerId. Loss of that heartbeat is a fault on the node side.
func (l *Lifecycle) ConfigureHeartbeatConsumer(ctx context.Context, record heartbeat.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.ConsumerId != l.requester.NodeId() {
		return fmt.Errorf("%w : consumer %v is not node %v", heartbeat.ErrInvalidNodeId, record.ConsumerId, l.requester.NodeId())
	}
	if err := l.requester.ConfigureHeartbeatConsumer(record.ProducerId, record.Timeout); err != nil {
		l.logger.Errorf("heartbeat consumer configuration failed : %v", err)
		return err
	}
	l.logger.Infof("monitoring heartbeat of node %v, timeout %v", record.ProducerId, record.Timeout)
	return Sleep(ctx, l.settle)
}
