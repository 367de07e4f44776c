// Package report writes run output as CSV: agent attributes, the network,
// communication and power ledgers, and per-step behavior statistics.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/gen"
)

// Output file names inside a run directory.
const (
	OriginalAttributesFile = "original-attributes.csv"
	OriginalNetworkFile    = "original-network.csv"
	StatisticsFile         = "statistics.csv"
	FinalAttributesFile    = "final-attributes.csv"
	CommFile               = "comm.csv"
	PowerFile              = "power.csv"
)

// RunDirName formats the directory name for one run, e.g.
// "run-24Mar05-142310-3".
func RunDirName(now time.Time, run uint32) string {
	return fmt.Sprintf("run-%s-%d", strftime.Format("%y%b%d-%H%M%S", now), run)
}

// CreateRunDirectory creates a fresh run directory under where. It fails if
// the directory already exists.
func CreateRunDirectory(where string, run uint32, now time.Time) (string, error) {
	path := filepath.Join(where, RunDirName(now, run))
	if err := os.Mkdir(path, 0o770); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return path, nil
}

// WriteFile creates path and hands a CSV writer to fn.
func WriteFile(path string, fn func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func floatField(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func uintField[T ~uint32 | ~uint64](v T) string {
	return strconv.FormatUint(uint64(v), 10)
}

// WriteAttributes writes one row per agent:
// AgentID,FamilySize,Power,Privilege,Values,Behavior.
func WriteAttributes(w io.Writer, population []agents.Agent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"AgentID", "FamilySize", "Power", "Privilege", "Values", "Behavior"}); err != nil {
		return err
	}
	for i := range population {
		a := &population[i]
		row := []string{
			uintField(a.ID()),
			uintField(a.FamilySize()),
			boolField(a.Powerful()),
			uintField(a.Privilege()),
			gen.ListToString(a.Values()),
			gen.ListToString(a.Behavior()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteNetwork writes the graph as From,To rows. Edges point from each
// neighbor toward the agent that holds it in its network.
func WriteNetwork(w io.Writer, population []agents.Agent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"From", "To"}); err != nil {
		return err
	}
	for i := range population {
		a := &population[i]
		for _, n := range a.Network() {
			if err := cw.Write([]string{uintField(n), uintField(a.ID())}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteComm writes communicated/(2t) for every ledger entry.
func WriteComm(w io.Writer, population []agents.Agent, t uint64) error {
	return writeLedger(w, population, func(in agents.Interaction) float64 {
		if t == 0 {
			return 0
		}
		return float64(in.Communicated) / float64(2*t)
	})
}

// WritePower writes (censored+reinforced)/communicated for every ledger entry.
func WritePower(w io.Writer, population []agents.Agent) error {
	return writeLedger(w, population, func(in agents.Interaction) float64 {
		if in.Communicated == 0 {
			return 0
		}
		return float64(in.Censored+in.Reinforced) / float64(in.Communicated)
	})
}

func writeLedger(w io.Writer, population []agents.Agent, weight func(agents.Interaction) float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"From", "To", "Power"}); err != nil {
		return err
	}
	for i := range population {
		a := &population[i]
		ledger := a.Interactions()
		for _, other := range slices.Sorted(maps.Keys(ledger)) {
			row := []string{uintField(a.ID()), uintField(other), floatField(weight(ledger[other]))}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
