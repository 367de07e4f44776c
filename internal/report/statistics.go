package report

import (
	"encoding/csv"
	"io"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/gen"
)

// Snapshot is the population summary at one time step.
type Snapshot struct {
	Time      uint64            `json:"time"`
	Privilege uint64            `json:"privilege"`
	Counts    map[string]uint32 `json:"counts"`
}

// Summarize counts agents per behavior tuple and totals privilege. Every
// tuple allowed by dims is present in Counts, zero or not.
func Summarize(population []agents.Agent, dims agents.BehaviorList, t uint64) Snapshot {
	s := Snapshot{Time: t, Counts: make(map[string]uint32)}
	for _, key := range gen.PermuteList(dims) {
		s.Counts[key] = 0
	}
	for i := range population {
		s.Counts[gen.ListToString(population[i].Behavior())]++
		s.Privilege += population[i].Privilege()
	}
	return s
}

// StatisticsWriter appends one CSV row per step:
// Time,Privilege,<one column per behavior tuple>.
type StatisticsWriter struct {
	cw       *csv.Writer
	dims     agents.BehaviorList
	permutes []string
}

// NewStatisticsWriter prepares column order for the given behavior dimensions.
func NewStatisticsWriter(w io.Writer, dims agents.BehaviorList) *StatisticsWriter {
	return &StatisticsWriter{
		cw:       csv.NewWriter(w),
		dims:     dims,
		permutes: gen.PermuteList(dims),
	}
}

// WriteHeader writes the column names.
func (s *StatisticsWriter) WriteHeader() error {
	header := append([]string{"Time", "Privilege"}, s.permutes...)
	if err := s.cw.Write(header); err != nil {
		return err
	}
	s.cw.Flush()
	return s.cw.Error()
}

// WriteRow summarizes the population at t, writes it, and returns the summary.
func (s *StatisticsWriter) WriteRow(population []agents.Agent, t uint64) (Snapshot, error) {
	snap := Summarize(population, s.dims, t)
	row := make([]string, 0, len(s.permutes)+2)
	row = append(row, uintField(snap.Time), uintField(snap.Privilege))
	for _, key := range s.permutes {
		row = append(row, uintField(snap.Counts[key]))
	}
	if err := s.cw.Write(row); err != nil {
		return snap, err
	}
	s.cw.Flush()
	return snap, s.cw.Error()
}
