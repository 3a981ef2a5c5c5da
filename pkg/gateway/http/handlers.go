package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samsamfire/eposmaster/pkg/gateway"
	"github.com/samsamfire/eposmaster/pkg/sdo"
)

var ErrSyntax = errors.New("syntax error in request")

// parseNodeId accepts a decimal or hexadecimal id, or "default"
func (gw *GatewayServer) parseNodeId(raw string) (uint8, error) {
	if raw == "default" {
		return gw.DefaultNodeId(), nil
	}
	id, err := strconv.ParseUint(raw, 0, 8)
	if err != nil || id < 1 || id > 127 {
		return 0, fmt.Errorf("%w : node id %q", ErrSyntax, raw)
	}
	return uint8(id), nil
}

func respondError(c *gin.Context, err error) {
	var abort sdo.Abort
	switch {
	case errors.Is(err, ErrSyntax):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, gateway.ErrUnknownNode):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, gateway.ErrNotAttached):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case errors.As(err, &abort):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Abort: fmt.Sprintf("x%08x", uint32(abort))})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func (gw *GatewayServer) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gw.GetVersion())
}

func (gw *GatewayServer) handleNodes(c *gin.Context) {
	c.JSON(http.StatusOK, NodesResponse{Nodes: gw.Nodes(), DefaultNodeId: gw.DefaultNodeId()})
}

func (gw *GatewayServer) handleNode(c *gin.Context) {
	nodeId, err := gw.parseNodeId(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	snapshot, err := gw.Snapshot(nodeId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (gw *GatewayServer) handleSDORead(c *gin.Context) {
	nodeId, err := gw.parseNodeId(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 0, 16)
	if err != nil {
		respondError(c, fmt.Errorf("%w : index %q", ErrSyntax, c.Param("index")))
		return
	}
	subindex, err := strconv.ParseUint(c.Param("subindex"), 0, 8)
	if err != nil {
		respondError(c, fmt.Errorf("%w : subindex %q", ErrSyntax, c.Param("subindex")))
		return
	}
	result, err := gw.ReadSDO(nodeId, uint16(index), uint8(subindex))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SDOReadResponse{
		NodeId:   result.NodeId,
		Index:    fmt.Sprintf("0x%04x", result.Index),
		Subindex: fmt.Sprintf("0x%02x", result.Subindex),
		Data:     fmt.Sprintf("0x%0*x", int(result.Size)*2, result.Value),
		Value:    result.Value,
		Length:   result.Size,
	})
}

func (gw *GatewayServer) handleOrchestrator(c *gin.Context) {
	status, err := gw.OrchestratorStatus()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (gw *GatewayServer) handleReceiver(c *gin.Context) {
	counters, running, err := gw.ReceiverCounters()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReceiverResponse{Running: running, Counters: counters})
}
