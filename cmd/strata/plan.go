package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/cuemby/strata/pkg/dispatch"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/nodestate"
	"github.com/cuemby/strata/pkg/pendingops"
	"github.com/cuemby/strata/pkg/placement"
	"github.com/cuemby/strata/pkg/reconciler"
	"github.com/cuemby/strata/pkg/replication"
	"github.com/cuemby/strata/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the replication commands for a cluster scenario",
	Long: `Run one replication cycle against a cluster described in a YAML file
and print the copy commands it would send. Nothing is persisted.

Examples:
  # Plan fixes for a scenario
  strata plan -f cluster.yaml

  # Queue commands on the source and cap each source at 2 copies
  strata plan -f cluster.yaml --push --limit 2`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringP("file", "f", "", "Scenario YAML file (required)")
	planCmd.Flags().Int("limit", dispatch.DefaultReplicationLimit, "Replication commands allowed per source node")
	planCmd.Flags().Bool("push", false, "Queue commands on the source node")
	planCmd.Flags().String("container-size", "5GiB", "Minimum space reserved for a copied container")
	planCmd.Flags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	_ = planCmd.MarkFlagRequired("file")
}

type planOptions struct {
	Limit         int
	Push          bool
	ContainerSize uint64
}

func runPlan(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	limit, _ := cmd.Flags().GetInt("limit")
	push, _ := cmd.Flags().GetBool("push")
	sizeFlag, _ := cmd.Flags().GetString("container-size")
	level, _ := cmd.Flags().GetString("log-level")

	log.Init(log.Config{Level: log.ParseLevel(level), Output: os.Stderr})

	size, err := humanize.ParseBytes(sizeFlag)
	if err != nil {
		return fmt.Errorf("invalid container size %q: %w", sizeFlag, err)
	}

	sc, err := LoadScenario(filename)
	if err != nil {
		return err
	}

	_, err = plan(cmd.OutOrStdout(), sc, planOptions{Limit: limit, Push: push, ContainerSize: size})
	return err
}

// plan runs a single reconciliation cycle over the scenario and writes the
// resulting commands to w
func plan(w io.Writer, sc *Scenario, opts planOptions) (*reconciler.CycleResult, error) {
	now := time.Now()
	cl, err := sc.build(now)
	if err != nil {
		return nil, err
	}

	registry := nodestate.NewRegistry(nodestate.Config{}, nil, nil)
	registry.Load(cl.nodes)

	ledger := pendingops.NewLedger(0, nil)
	for _, op := range cl.pending {
		switch op.Type {
		case types.PendingAdd:
			ledger.ScheduleAddReplica(op.ContainerID, op.Target, op.ReplicaIndex, "scenario", time.Time{})
		case types.PendingDelete:
			ledger.ScheduleDeleteReplica(op.ContainerID, op.Target, op.ReplicaIndex, "scenario", time.Time{})
		}
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		ReplicationLimit: opts.Limit,
		Push:             opts.Push,
	}, nil, ledger, nil)

	policy := placement.NewRackScatter(registry)
	replMetrics := metrics.NewReplicationMetrics(nil)
	handlerCfg := replication.Config{ContainerSize: opts.ContainerSize}

	// One container at a time keeps the command order reproducible
	recon := reconciler.NewReconciler(reconciler.Config{Parallelism: 1}, reconciler.Deps{
		Store:   cl,
		Pending: ledger,
		Ratis:   replication.NewRatisMisReplicationHandler(policy, registry, dispatcher, replMetrics, handlerCfg),
		EC:      replication.NewECMisReplicationHandler(policy, registry, dispatcher, replMetrics, handlerCfg),
	})

	result, err := recon.RunOnce(context.Background())
	if err != nil {
		return nil, err
	}

	var cmds []*dispatch.Command
	for _, n := range cl.nodes {
		cmds = append(cmds, dispatcher.Queue().Drain(n.ID)...)
	}
	slices.SortFunc(cmds, func(a, b *dispatch.Command) int {
		if c := cmp.Compare(a.ContainerID, b.ContainerID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ReplicaIndex, b.ReplicaIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.Source, b.Source)
	})

	printPlan(w, cl, cmds, result)
	return result, nil
}

func printPlan(w io.Writer, cl *cluster, cmds []*dispatch.Command, result *reconciler.CycleResult) {
	containers := make(map[uint64]*types.Container, len(cl.containers))
	for _, c := range cl.containers {
		containers[c.ID] = c
	}

	if len(cmds) == 0 {
		fmt.Fprintln(w, "No replication commands needed")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CONTAINER\tREPLICATION\tSIZE\tINDEX\tSOURCE\tTARGET")
		for _, cmd := range cmds {
			c := containers[cmd.ContainerID]
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
				cmd.ContainerID, c.ReplicationConfig, humanize.Bytes(c.UsedBytes),
				cmd.ReplicaIndex, cmd.Source, cmd.Target)
		}
		_ = tw.Flush()
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Containers checked: %d\n", result.Checked)
	for _, h := range replication.Healths {
		if n := result.Health[h]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", h, n)
		}
	}
	fmt.Fprintf(w, "Commands: %d\n", len(cmds))

	outcomes := make([]string, 0, len(result.Results))
	for outcome := range result.Results {
		outcomes = append(outcomes, outcome)
	}
	slices.Sort(outcomes)
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "  %s: %d\n", outcome, result.Results[outcome])
	}
}
