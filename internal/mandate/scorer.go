// Package mandate implements MandateScorer (RF control plane specification
// Section 4.4): per-flow, per-measurement-period goal evaluation against
// mandated outcome requirements, with forward-filled goal state across
// traffic-free measurement periods and stage-boundary resets.
//
// Grounded on original_source/python/dragon/scoring.py's Scorer and
// scoreGoals: a throughput mandate is met when bytes were sent and either
// the achieved bitrate clears min_throughput_bps or every sent byte was
// received; a file-transfer mandate is met when at least 90% of sent
// packets were received. A measurement period with no sent traffic carries
// forward the previous period's goal state rather than failing it outright.
package mandate

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// FlowId identifies a mandated flow.
type FlowId uint32

// NodeId identifies a fleet node.
type NodeId uint8

// MP is a measurement-period index.
type MP int64

// Goal describes one mandated outcome requirement, as delivered by the
// collaboration server's UpdateMandatedOutcomes message (specification
// Section 6.1).
type Goal struct {
	FlowID                FlowId
	PointValue            int
	HoldPeriod            int
	MaxLatencyS           *float64
	MinThroughputBps      *float64
	FileTransferDeadlineS *float64
}

// FlowStatsReport is one side (sent or recv) of a flow's reported counters
// over a dense measurement-period range, matching flowstats.FlowStats'
// shape without importing it, so the wire layer can feed either a
// flowstats.FlowPerformance drain or a peer-relayed report.
type FlowStatsReport struct {
	FlowID   FlowId
	Src      NodeId
	Dest     NodeId
	FirstMP  MP
	NPackets []int64
	NBytes   []int64
}

// goalState is a tri-state boolean: unset participates in forward-fill.
type goalState int8

const (
	goalUnset goalState = iota
	goalFalse
	goalTrue
)

type cell struct {
	stage            int
	npacketsSent     int64
	nbytesSent       int64
	updateTSSent     time.Time
	npacketsRecv     int64
	nbytesRecv       int64
	updateTSRecv     time.Time
	goal             goalState
	achievedDuration int
	goalStable       bool
	mpScore          int
}

// stageGoal binds a Goal's parameters to the measurement period at which
// they took effect; a flow re-mandated in a later stage keeps its earlier
// cells but is scored against the new parameters from that point on.
type stageGoal struct {
	stage  int
	fromMP MP
	goal   Goal
}

type flowLink struct {
	Src, Dest NodeId
}

type flowRow struct {
	link  flowLink
	goals []stageGoal // ascending by fromMP
	cells map[MP]*cell
}

func (r *flowRow) goalAt(mp MP) (Goal, bool) {
	var best *stageGoal
	for i := range r.goals {
		g := &r.goals[i]
		if g.fromMP <= mp && (best == nil || g.fromMP > best.fromMP) {
			best = g
		}
	}
	if best == nil {
		return Goal{}, false
	}
	return best.goal, true
}

func (r *flowRow) cellFor(mp MP) *cell {
	c, ok := r.cells[mp]
	if !ok {
		c = &cell{}
		r.cells[mp] = c
	}
	return c
}

// MandateOutcome is the scoring-side view of one mandate, mirroring the
// Python MandatePerformance named tuple carried in UpdateMandatedOutcomes.
type MandateOutcome struct {
	FlowID           FlowId
	RadioIDs         []NodeId
	HoldPeriod       int
	PointValue       int
	AchievedDuration int
	Achieved         bool
}

// Scorer owns the full mandated-outcome scoring table. One Scorer exists
// per scenario run.
type Scorer struct {
	scenarioStart     time.Time
	measurementPeriod time.Duration

	mu              sync.Mutex
	stage           int
	stageTimestamps map[int]MP
	rows            map[FlowId]*flowRow
}

// New creates a Scorer anchored at scenarioStart, bucketing time into
// measurementPeriod-wide measurement periods.
func New(scenarioStart time.Time, measurementPeriod time.Duration) *Scorer {
	return &Scorer{
		scenarioStart:     scenarioStart,
		measurementPeriod: measurementPeriod,
		stageTimestamps:   make(map[int]MP),
		rows:              make(map[FlowId]*flowRow),
	}
}

// TimeToMP converts a wall-clock time to a measurement period, flooring.
func (s *Scorer) TimeToMP(t time.Time) MP {
	d := t.Sub(s.scenarioStart)
	return MP(d / s.measurementPeriod)
}

// TimeToMPClosest converts a wall-clock time to a measurement period,
// rounding to the nearest period rather than flooring.
func (s *Scorer) TimeToMPClosest(t time.Time) MP {
	d := t.Sub(s.scenarioStart)
	half := s.measurementPeriod / 2
	return MP((d + half) / s.measurementPeriod)
}

// CurrentMP returns the measurement period containing now.
func (s *Scorer) CurrentMP(now time.Time) MP {
	return s.TimeToMP(now)
}

// UpdateGoals begins a new scoring stage: every flow named in goals is
// (re)mandated against its listed requirements from this point forward.
// Measurement periods before the stage boundary keep whatever cells they
// already accumulated; cells from the boundary on are scored against the
// new Goal parameters, with forward-filled goal state and the achieved run
// restarted at the boundary.
func (s *Scorer) UpdateGoals(goals []Goal, timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stage++
	stageTS := s.TimeToMPClosest(timestamp)
	s.stageTimestamps[s.stage] = stageTS

	start := MP(0)
	if s.stage > 1 {
		start = stageTS
	}

	for _, g := range goals {
		row, ok := s.rows[g.FlowID]
		if !ok {
			row = &flowRow{cells: make(map[MP]*cell)}
			s.rows[g.FlowID] = row
		}
		row.goals = append(row.goals, stageGoal{stage: s.stage, fromMP: start, goal: g})
	}
}

// getMPStage returns the scoring stage that mp belonged to at the time it
// was recorded.
func (s *Scorer) getMPStage(mp MP) int {
	for stage := 1; stage <= s.stage; stage++ {
		if mp < s.stageTimestamps[stage] {
			return stage - 1
		}
	}
	return s.stage
}

// RecordFlowStatistics folds one side (sent xor recv) of a flow's reported
// counters into the scoring table. Only measurement periods belonging to a
// currently- or previously-mandated flow are recorded; non-positive packet
// counts and stale (non-monotonic) update timestamps are ignored, mirroring
// __updateFlowStatistics.
func (s *Scorer) RecordFlowStatistics(report FlowStatsReport, sent bool, timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[report.FlowID]
	if !ok {
		return
	}
	row.link = flowLink{Src: report.Src, Dest: report.Dest}

	for i, npackets := range report.NPackets {
		if npackets <= 0 {
			continue
		}
		mp := report.FirstMP + MP(i)
		nbytes := report.NBytes[i]

		c := row.cellFor(mp)
		c.stage = s.getMPStage(mp)

		if sent {
			if c.updateTSSent.IsZero() || c.updateTSSent.Before(timestamp) {
				c.npacketsSent = npackets
				c.nbytesSent = nbytes
				c.updateTSSent = timestamp
			}
		} else {
			if c.updateTSRecv.IsZero() || c.updateTSRecv.Before(timestamp) {
				c.npacketsRecv = npackets
				c.nbytesRecv = nbytes
				c.updateTSRecv = timestamp
			}
		}
	}
}

// UpdateScore recomputes goal/achieved_duration/goal_stable/mp_score for
// every mandated flow's full observed measurement-period range. Call this
// once per measurement period before reading outcomes.
func (s *Scorer) UpdateScore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		s.scoreRowLocked(row)
	}
}

func (s *Scorer) scoreRowLocked(row *flowRow) {
	mps := make([]MP, 0, len(row.cells))
	for mp := range row.cells {
		mps = append(mps, mp)
	}
	sort.Slice(mps, func(i, j int) bool { return mps[i] < mps[j] })

	var forward goalState = goalUnset
	achieved := 0
	stageFrom := MP(0)

	for _, mp := range mps {
		c := row.cells[mp]
		goalParams, _ := row.goalAt(mp)

		from := MP(0)
		for _, g := range row.goals {
			if g.fromMP <= mp && g.fromMP > from {
				from = g.fromMP
			}
		}
		if from != stageFrom {
			// A later stage's goal takes effect here: start a fresh run.
			forward = goalUnset
			achieved = 0
			stageFrom = from
		}

		if c.nbytesSent == 0 {
			c.goal = forward
		} else {
			tpGood := goalParams.MinThroughputBps != nil &&
				c.nbytesSent > 0 &&
				(float64(c.nbytesRecv*8) >= *goalParams.MinThroughputBps ||
					c.nbytesRecv == c.nbytesSent)

			ftGood := goalParams.FileTransferDeadlineS != nil &&
				c.npacketsSent > 0 &&
				float64(c.npacketsRecv)/float64(c.npacketsSent) >= 0.9

			if tpGood || ftGood {
				c.goal = goalTrue
			} else {
				c.goal = goalFalse
			}
			forward = c.goal
		}

		if c.goal == goalUnset {
			c.goal = goalFalse
		}

		if c.goal == goalTrue {
			achieved++
		} else {
			achieved = 0
		}
		c.achievedDuration = achieved

		c.goalStable = c.achievedDuration >= goalParams.HoldPeriod
		if c.goalStable {
			c.mpScore = goalParams.PointValue
		} else {
			c.mpScore = 0
		}
	}
}

// UpdateMandatedOutcomes reports the current scoring state for each
// requested flow at measurement period mp. Flows with no recorded cell at
// mp are returned with AchievedDuration 0 and Achieved false. Returns the
// number of mandates currently achieved and the total points they're worth.
func (s *Scorer) UpdateMandatedOutcomes(mp MP, flowIDs []FlowId) (outcomes []MandateOutcome, mandatesAchieved int, totalScore int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range flowIDs {
		row, ok := s.rows[id]
		if !ok {
			outcomes = append(outcomes, MandateOutcome{FlowID: id})
			continue
		}

		goalParams, _ := row.goalAt(mp)
		out := MandateOutcome{
			FlowID:     id,
			RadioIDs:   []NodeId{row.link.Src, row.link.Dest},
			HoldPeriod: goalParams.HoldPeriod,
			PointValue: goalParams.PointValue,
		}

		if c, ok := row.cells[mp]; ok {
			out.AchievedDuration = c.achievedDuration
			out.Achieved = c.achievedDuration >= goalParams.HoldPeriod
		}

		if out.Achieved {
			mandatesAchieved++
			totalScore += out.PointValue
		}

		outcomes = append(outcomes, out)
	}

	return outcomes, mandatesAchieved, totalScore
}

// ExportCSV writes one row per (flow, mp) cell, sorted by flow then mp,
// matching the column layout of dumpScores' score_*.csv output. Grounded
// on the persist package's CSV-writer plan (no h5py equivalent is carried
// forward; score_reported.csv replaces the pandas-dumped score frame).
func (s *Scorer) ExportCSV(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"flow_uid", "mp", "stage", "npackets_sent", "nbytes_sent",
		"npackets_recv", "nbytes_recv", "goal", "achieved_duration", "goal_stable", "mp_score"}
	if err := cw.Write(header); err != nil {
		return err
	}

	flowIDs := make([]FlowId, 0, len(s.rows))
	for id := range s.rows {
		flowIDs = append(flowIDs, id)
	}
	sort.Slice(flowIDs, func(i, j int) bool { return flowIDs[i] < flowIDs[j] })

	for _, id := range flowIDs {
		row := s.rows[id]
		mps := make([]MP, 0, len(row.cells))
		for mp := range row.cells {
			mps = append(mps, mp)
		}
		sort.Slice(mps, func(i, j int) bool { return mps[i] < mps[j] })

		for _, mp := range mps {
			c := row.cells[mp]
			record := []string{
				fmt.Sprintf("%d", id),
				fmt.Sprintf("%d", mp),
				fmt.Sprintf("%d", c.stage),
				fmt.Sprintf("%d", c.npacketsSent),
				fmt.Sprintf("%d", c.nbytesSent),
				fmt.Sprintf("%d", c.npacketsRecv),
				fmt.Sprintf("%d", c.nbytesRecv),
				fmt.Sprintf("%t", c.goal == goalTrue),
				fmt.Sprintf("%d", c.achievedDuration),
				fmt.Sprintf("%t", c.goalStable),
				fmt.Sprintf("%d", c.mpScore),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	return nil
}
