package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	gwhttp "github.com/samsamfire/eposmaster/pkg/gateway/http"
	"github.com/spf13/cobra"
)

const defaultGateway = "http://127.0.0.1:8090"

// status and sdo query a running master through its status API
func newStatusCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running master",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := gwhttp.NewGatewayClient(address, gwhttp.API_VERSION)
			nodes, err := client.Nodes()
			if err != nil {
				return err
			}
			report := map[string]any{"nodes": nodes}
			for _, id := range nodes.Nodes {
				node, err := client.Node(id)
				if err != nil {
					return err
				}
				report[fmt.Sprintf("node %d", id)] = node
			}
			if orchestrator, err := client.Orchestrator(); err == nil {
				report["orchestrator"] = orchestrator
			}
			if receiver, err := client.Receiver(); err == nil {
				report["receiver"] = receiver
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.PersistentFlags().StringVar(&address, "gateway", defaultGateway, "address of the status API")
	cmd.AddCommand(newSDOCmd(&address))
	return cmd
}

func newSDOCmd(address *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sdo <node> <index> <subindex>",
		Short: "Upload an object dictionary entry from a drive",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeId, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				return fmt.Errorf("invalid node id %q : %w", args[0], err)
			}
			index, err := strconv.ParseUint(args[1], 0, 16)
			if err != nil {
				return fmt.Errorf("invalid index %q : %w", args[1], err)
			}
			subindex, err := strconv.ParseUint(args[2], 0, 8)
			if err != nil {
				return fmt.Errorf("invalid subindex %q : %w", args[2], err)
			}
			client := gwhttp.NewGatewayClient(*address, gwhttp.API_VERSION)
			resp, err := client.Read(uint8(nodeId), uint16(index), uint8(subindex))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
