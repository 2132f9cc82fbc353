package main

import (
	"fmt"
	"strconv"

	"github.com/cuemby/strata/pkg/api"
	"github.com/cuemby/strata/pkg/client"
	"github.com/cuemby/strata/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage datanodes",
}

var nodeStateCmd = &cobra.Command{
	Use:   "state NODE STATE",
	Short: "Set the operational state of a datanode",
	Long: `Set the operational state of a datanode. STATE is one of in_service,
entering_maintenance, in_maintenance, decommissioning or decommissioned.

Examples:
  # Drain a node before taking it down
  strata node state dn-4 decommissioning --manager 10.0.0.1:9091`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := managerClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		state := types.NodeOperationalState(args[1])
		if err := c.SetNodeState(args[0], state); err != nil {
			return fmt.Errorf("failed to set state of node %s: %w", args[0], err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Node %s is %s\n", args[0], state)
		return nil
	},
}

// Container commands
var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage containers",
}

var containerCreateCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Create a container",
	Long: `Create a closed container. Replicas are added as datanodes report them.

Examples:
  strata container create 12 --replication ratis-3
  strata container create 13 --replication rs-6-3-1024k --used 4GB`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid container ID %q: %w", args[0], err)
		}
		replication, _ := cmd.Flags().GetString("replication")
		usedFlag, _ := cmd.Flags().GetString("used")

		used, err := humanize.ParseBytes(usedFlag)
		if err != nil {
			return fmt.Errorf("invalid used size %q: %w", usedFlag, err)
		}

		c, err := managerClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		container, err := c.CreateContainer(&api.CreateContainerRequest{
			ID:          id,
			Replication: replication,
			UsedBytes:   used,
		})
		if err != nil {
			return fmt.Errorf("failed to create container %d: %w", id, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Container %d created (%s, %s)\n",
			container.ID, container.ReplicationConfig, humanize.Bytes(container.UsedBytes))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{nodeCmd, containerCmd} {
		c.PersistentFlags().String("manager", "localhost:9091", "Manager gRPC address")
	}

	nodeCmd.AddCommand(nodeStateCmd)

	containerCreateCmd.Flags().String("replication", "ratis-3", "Replication config (ratis-N or rs-D-P-CHUNK)")
	containerCreateCmd.Flags().String("used", "0", "Bytes already stored in the container")
	containerCmd.AddCommand(containerCreateCmd)
}

func managerClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("manager")
	c, err := client.NewClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to manager: %w", err)
	}
	return c, nil
}
