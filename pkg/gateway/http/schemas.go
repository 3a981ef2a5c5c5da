package http

import (
	"github.com/samsamfire/eposmaster/pkg/epos"
	"github.com/samsamfire/eposmaster/pkg/motion"
	"github.com/samsamfire/eposmaster/pkg/receiver"
)

// Error response from the server
type ErrorResponse struct {
	Error string `json:"error"`
	// Abort code when the drive refused an SDO access
	Abort string `json:"abort,omitempty"`
}

type NodesResponse struct {
	Nodes         []uint8 `json:"nodes"`
	DefaultNodeId uint8   `json:"defaultNodeId"`
}

type NodeResponse = epos.Snapshot

type SDOReadResponse struct {
	NodeId   uint8  `json:"nodeId"`
	Index    string `json:"index"`
	Subindex string `json:"subindex"`
	Data     string `json:"data"`
	Value    uint32 `json:"value"`
	Length   uint8  `json:"length"`
}

type OrchestratorResponse = motion.Status

type ReceiverResponse struct {
	Running  bool              `json:"running"`
	Counters receiver.Counters `json:"counters"`
}
