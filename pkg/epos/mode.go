package epos

import "fmt"

// Mode of operation (0x6060 / 0x6061)
type Mode int8

const (
	ModeNone                      Mode = 0
	ModeProfilePosition           Mode = 1
	ModeProfileVelocity           Mode = 3
	ModeHoming                    Mode = 6
	ModeCyclicSynchronousPosition Mode = 8
	ModeCyclicSynchronousVelocity Mode = 9
	ModeCyclicSynchronousTorque   Mode = 10
)

var modeDescription = map[Mode]string{
	ModeNone:                      "NONE",
	ModeProfilePosition:           "PPM",
	ModeProfileVelocity:           "PVM",
	ModeHoming:                    "HMM",
	ModeCyclicSynchronousPosition: "CSP",
	ModeCyclicSynchronousVelocity: "CSV",
	ModeCyclicSynchronousTorque:   "CST",
}

func (m Mode) String() string {
	description, ok := modeDescription[m]
	if ok {
		return description
	}
	return fmt.Sprintf("MODE(%d)", int8(m))
}
