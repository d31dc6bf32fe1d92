package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

// goalSpecs holds the raw --goal flag values before parsing.
var goalSpecs []string

func init() {
	goalsCmd.Flags().StringArrayVar(&goalSpecs, "goal", nil,
		"flow_id,point_value,hold_period,max_latency_s,min_throughput_bps,file_deadline_s "+
			"(leave a numeric field blank to omit it; repeatable)")
	RootCmd.AddCommand(goalsCmd)
}

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "push mandated outcomes (UpdateMandatedOutcomes) for the current scoring stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		goals := make([]wire.Goal, 0, len(goalSpecs))
		for _, spec := range goalSpecs {
			g, err := parseGoalSpec(spec)
			if err != nil {
				return fmt.Errorf("--goal %q: %w", spec, err)
			}
			goals = append(goals, g)
		}

		payload := wire.EncodeUpdateMandatedOutcomes(goals)
		resp, err := sendRequest(addr, payload)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

// parseGoalSpec parses "flow_id,point_value,hold_period,max_latency_s,
// min_throughput_bps,file_deadline_s" into a wire.Goal. The first three
// fields are required; the last three are optional floats, blank meaning
// unset.
func parseGoalSpec(spec string) (wire.Goal, error) {
	fields := strings.Split(spec, ",")
	if len(fields) < 3 {
		return wire.Goal{}, fmt.Errorf("expected at least flow_id,point_value,hold_period")
	}
	for len(fields) < 6 {
		fields = append(fields, "")
	}

	flowID, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return wire.Goal{}, fmt.Errorf("flow_id: %w", err)
	}
	pointValue, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return wire.Goal{}, fmt.Errorf("point_value: %w", err)
	}
	holdPeriod, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return wire.Goal{}, fmt.Errorf("hold_period: %w", err)
	}

	g := wire.Goal{FlowID: uint32(flowID), PointValue: uint32(pointValue), HoldPeriod: uint32(holdPeriod)}
	if g.MaxLatencyS, err = parseOptFloat(fields[3]); err != nil {
		return wire.Goal{}, fmt.Errorf("max_latency_s: %w", err)
	}
	if g.MinThroughputBps, err = parseOptFloat(fields[4]); err != nil {
		return wire.Goal{}, fmt.Errorf("min_throughput_bps: %w", err)
	}
	if g.FileTransferDeadlineS, err = parseOptFloat(fields[5]); err != nil {
		return wire.Goal{}, fmt.Errorf("file_deadline_s: %w", err)
	}
	return g, nil
}

func parseOptFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
