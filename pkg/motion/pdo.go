package motion

import (
	"context"
	"time"

	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/nmt"
	"github.com/samsamfire/eposmaster/pkg/od"
	"github.com/samsamfire/eposmaster/pkg/pdo"
)

const (
	LabelControlWordSync = "CWS"
	LabelProfileVelocity = "PV"
	LabelStatusPosition  = "SP"

	// 100 x 100µs between two statusword / position TPDOs
	StatusInhibitTime uint16 = 100
)

// Mappings used by the orchestrator, in configuration order
var Mappings = []struct {
	Label string
	Conf  pdo.Configuration
}{
	{LabelControlWordSync, pdo.Configuration{
		Slot:    pdo.Rx1,
		Mode:    pdo.Synchronous,
		Entries: []od.Entry{od.Controlword},
	}},
	{LabelProfileVelocity, pdo.Configuration{
		Slot:    pdo.Rx2,
		Mode:    pdo.Asynchronous,
		Entries: []od.Entry{od.ProfileVelocity},
	}},
	{LabelStatusPosition, pdo.Configuration{
		Slot:        pdo.Tx1,
		Mode:        pdo.Asynchronous,
		Entries:     []od.Entry{od.Statusword, od.PositionActualValue},
		InhibitTime: StatusInhibitTime,
	}},
}

// PDOConfigurer is the part of a drive needed to program its mappings
type PDOConfigurer interface {
	ResetMappingCount() error
	ConfigurePDO(label string, conf pdo.Configuration) error
}

// ConfigurePDOs clears every mapping, waits settle, then writes [Mappings].
// Every call is attempted, a nonzero OR of their codes gives a
// [ConfigurationError].
func ConfigurePDOs(ctx context.Context, drive PDOConfigurer, settle time.Duration) error {
	code := epos.CodeOf(drive.ResetMappingCount())
	if err := nmt.Sleep(ctx, settle); err != nil {
		return err
	}
	for _, mapping := range Mappings {
		code |= epos.CodeOf(drive.ConfigurePDO(mapping.Label, mapping.Conf))
	}
	if code != epos.NoErrorCode {
		return &ConfigurationError{Code: code}
	}
	return nil
}
