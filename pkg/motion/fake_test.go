package motion

import (
	"fmt"
	"sync"
	"time"

	"github.com/samsamfire/eposmaster/pkg/config"
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
)

// fakeDrive records every command sent to it, in order.
// Failures are injected per command name.
type fakeDrive struct {
	mu          sync.Mutex
	calls       []string
	failures    map[string]error
	state       nmt.State
	mode        epos.Mode
	controlWord epos.ControlWord
	values      map[od.Key]int32
	unreadable  map[od.Key]bool
	synced      bool
	reached     bool
	fault       bool
	// Number of target reached polls after SYNC before the target is reached
	reachAfter int
	polls      int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		failures:   make(map[string]error),
		state:      nmt.StateInitializing,
		values:     make(map[od.Key]int32),
		unreadable: make(map[od.Key]bool),
	}
}

func (f *fakeDrive) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	f.calls = append(f.calls, call)
	return f.failures[call]
}

func (f *fakeDrive) fail(call string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[call] = err
}

func (f *fakeDrive) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeDrive) index(call string) int {
	for i, c := range f.Calls() {
		if c == call {
			return i
		}
	}
	return -1
}

func (f *fakeDrive) NodeId() uint8 { return 1 }

func (f *fakeDrive) RequestNMTTransition(command nmt.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("nmt %v", command); err != nil {
		return err
	}
	switch command {
	case nmt.CommandEnterPreOperational:
		f.state = nmt.StatePreOperational
	case nmt.CommandEnterOperational:
		f.state = nmt.StateOperational
	case nmt.CommandEnterStopped:
		f.state = nmt.StateStopped
	default:
		f.state = nmt.StateInitializing
	}
	return nil
}

func (f *fakeDrive) NMTState() nmt.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDrive) ConfigureHeartbeatConsumer(producerId uint8, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("heartbeat consumer %v %v", producerId, timeout)
}

func (f *fakeDrive) ResetMappingCount() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("reset mappings")
}

func (f *fakeDrive) ConfigurePDO(label string, conf pdo.Configuration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("pdo %v", label)
}

func (f *fakeDrive) WriteDictionary(entry od.Entry, value int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("sdo x%x=%v", entry.Index, value); err != nil {
		return err
	}
	f.values[entry.Key()] = value
	if entry.Key() == od.Controlword.Key() {
		f.controlWord = epos.ControlWord(value)
	}
	return nil
}

func (f *fakeDrive) ReadDictionary(entry od.Entry) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("read x%x", entry.Index)
	if f.unreadable[entry.Key()] {
		return 0, false
	}
	return f.values[entry.Key()], true
}

func (f *fakeDrive) CachedValue(entry od.Entry) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[entry.Key()]
}

func (f *fakeDrive) SendRxPDO(label string, values ...int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("rpdo %v=%v", label, values); err != nil {
		return err
	}
	switch label {
	case LabelProfileVelocity:
		f.values[od.ProfileVelocity.Key()] = values[0]
	case LabelControlWordSync:
		f.controlWord = epos.ControlWord(values[0])
	}
	return nil
}

func (f *fakeDrive) BroadcastSync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("sync"); err != nil {
		return err
	}
	f.synced = true
	return nil
}

func (f *fakeDrive) SetModeOfOperation(mode epos.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("mode %v", mode); err != nil {
		return err
	}
	f.mode = mode
	return nil
}

func (f *fakeDrive) ModeOfOperation() epos.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeDrive) RequireMotion(op string, mode epos.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != nmt.StateOperational {
		return &epos.Error{Op: op, Code: epos.MasterWrongState, Err: epos.ErrNotOperational}
	}
	if f.mode != mode {
		return &epos.Error{Op: op, Code: epos.MasterWrongState, Err: epos.ErrWrongMode}
	}
	return nil
}

func (f *fakeDrive) writeControlWord(name string, word epos.ControlWord) error {
	if err := f.record("%v %v", name, word); err != nil {
		return err
	}
	f.controlWord = word
	return nil
}

func (f *fakeDrive) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeControlWord("enable", epos.ControlEnableOperation)
}

func (f *fakeDrive) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeControlWord("disable", epos.ControlShutdown)
}

func (f *fakeDrive) Halt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeControlWord("halt", f.controlWord.With(epos.Halt, true))
}

func (f *fakeDrive) ClearFault() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeControlWord("clear fault", epos.ControlFaultReset)
}

func (f *fakeDrive) ApplyControlBits(flags ...epos.Flag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeControlWord("controlword", f.controlWord.Apply(flags...))
}

func (f *fakeDrive) ControlWord() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint16(f.controlWord)
}

func (f *fakeDrive) StatusBit(bit epos.StatusBit) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch bit {
	case epos.SetPointAcknowledge:
		return f.controlWord.Has(epos.NewSetPoint)
	case epos.Fault:
		return f.fault
	case epos.TargetReached:
		if f.reached {
			return true
		}
		if !f.synced {
			return false
		}
		f.polls++
		return f.polls > f.reachAfter
	}
	return false
}

func (f *fakeDrive) InvalidateStatus() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("invalidate")
}

func (f *fakeDrive) Identity() (*config.Identity, error) {
	return &config.Identity{VendorId: 0xFB}, nil
}
