package pipeline

import (
	"time"

	"github.com/askql/askql/internal/guard"
	"github.com/askql/askql/internal/nl2sql"
	"github.com/askql/askql/internal/prompt"
	"github.com/askql/askql/internal/query"
	"github.com/askql/askql/internal/retrieval"
)

type TableMatch struct {
	Table string  `json:"table"`
	Score float64 `json:"score"`
}

type StageTiming struct {
	Stage      string        `json:"stage"`
	Status     string        `json:"status"`
	DurationMS float64       `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

func newStageTiming(stage string, err error, elapsed time.Duration) StageTiming {
	status := "ok"
	if err != nil {
		status = "error"
	}
	return StageTiming{
		Stage:      stage,
		Status:     status,
		DurationMS: float64(elapsed.Microseconds()) / 1000,
		Duration:   elapsed,
	}
}

// Outcome is everything produced for one question. Fields stay nil for
// stages that did not run.
type Outcome struct {
	ID        string            `json:"id"`
	Question  string            `json:"question"`
	Mode      Mode              `json:"mode"`
	FullScan  bool              `json:"full_schema"`
	Matches   []TableMatch      `json:"matches"`
	Request   *prompt.Request   `json:"prompt,omitempty"`
	Candidate *nl2sql.Candidate `json:"candidate,omitempty"`
	Verdict   *guard.Verdict    `json:"verdict,omitempty"`
	Result    *query.ResultSet  `json:"result,omitempty"`
	Stages    []StageTiming     `json:"stages"`
}

func (o *Outcome) setMatches(result retrieval.Result) {
	o.FullScan = result.Full
	o.Matches = make([]TableMatch, len(result.Matches))
	for i, match := range result.Matches {
		o.Matches[i] = TableMatch{Table: match.Table.ID(), Score: match.Score}
	}
}

// Executed reports whether the statement reached the database.
func (o Outcome) Executed() bool {
	return o.Result != nil
}
