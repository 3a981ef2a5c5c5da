package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// GatewayClient queries a [GatewayServer]
type GatewayClient struct {
	client     *http.Client
	baseURL    string
	apiVersion string
}

func NewGatewayClient(baseURL string, apiVersion string) *GatewayClient {
	return &GatewayClient{
		client:     &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		apiVersion: apiVersion,
	}
}

// StatusError is returned for any non 2xx response
type StatusError struct {
	Status   int
	Response ErrorResponse
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d : %v", e.Status, e.Response.Error)
}

// do a GET on uri and decode the JSON response into out
func (client *GatewayClient) do(uri string, out any) error {
	url := fmt.Sprintf("%s/api/%s%s", client.baseURL, client.apiVersion, uri)
	resp, err := client.client.Get(url)
	if err != nil {
		log.Errorf("[HTTP][CLIENT] http error : %v", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		statusErr := &StatusError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&statusErr.Response)
		return statusErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Errorf("[HTTP][CLIENT] error decoding json response : %v", err)
		return err
	}
	return nil
}

func (client *GatewayClient) Nodes() (NodesResponse, error) {
	var resp NodesResponse
	return resp, client.do("/nodes", &resp)
}

func (client *GatewayClient) Node(nodeId uint8) (NodeResponse, error) {
	var resp NodeResponse
	return resp, client.do(fmt.Sprintf("/nodes/%d", nodeId), &resp)
}

// Read via SDO
func (client *GatewayClient) Read(nodeId uint8, index uint16, subindex uint8) (SDOReadResponse, error) {
	var resp SDOReadResponse
	return resp, client.do(fmt.Sprintf("/nodes/%d/sdo/0x%x/%d", nodeId, index, subindex), &resp)
}

func (client *GatewayClient) Orchestrator() (OrchestratorResponse, error) {
	var resp OrchestratorResponse
	return resp, client.do("/orchestrator", &resp)
}

func (client *GatewayClient) Receiver() (ReceiverResponse, error) {
	var resp ReceiverResponse
	return resp, client.do("/receiver", &resp)
}
