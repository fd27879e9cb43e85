package metrics

import "time"

// Outcome is one execution of one test case against the deployed configuration.
type Outcome struct {
	CaseID      string        `json:"case_id"`
	CaseIndex   int           `json:"case_index"`
	Repeat      int           `json:"repeat"`
	Question    string        `json:"question"`
	Expected    string        `json:"expected_sql"`
	Generated   string        `json:"generated_sql,omitempty"`
	Passed      bool          `json:"passed"`
	ExactMatch  bool          `json:"exact_match,omitempty"`
	Score       *float64      `json:"score,omitempty"`
	Explanation string        `json:"explanation,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	Latency     time.Duration `json:"latency_ns"`
}

// FailureRecord describes one failed case, always taken from a single repeat.
type FailureRecord struct {
	CaseID      string `json:"case_id"`
	Question    string `json:"question"`
	Expected    string `json:"expected_sql"`
	Generated   string `json:"generated_sql,omitempty"`
	Issue       string `json:"issue"`
	Explanation string `json:"explanation,omitempty"`
	Repeat      int    `json:"repeat"`
}

// Aggregated summarizes one evaluation pass. Accuracies are percentages.
type Aggregated struct {
	Repeats          int             `json:"repeats"`
	Cases            int             `json:"cases"`
	RepeatAccuracies []float64       `json:"repeat_accuracies"`
	Mean             float64         `json:"mean"`
	Std              float64         `json:"std"`
	Min              float64         `json:"min"`
	Max              float64         `json:"max"`
	Passed           int             `json:"passed"`
	Total            int             `json:"total"`
	ExactMatches     int             `json:"exact_matches"`
	Errors           int             `json:"errors"`
	FailureRepeat    int             `json:"failure_repeat"`
	Failures         []FailureRecord `json:"failures"`
}

// Accuracy is the headline accuracy used for checkpoint and rollback decisions.
func (a Aggregated) Accuracy() float64 {
	return a.Mean
}

// FailurePolicy selects which failures feed the improver.
type FailurePolicy string

const (
	// WorstRepeat takes the failures of the lowest scoring repeat.
	WorstRepeat FailurePolicy = "worst_repeat"
	// Union takes every case that failed in any repeat, once, from the first
	// repeat in which it failed.
	Union FailurePolicy = "union"
)

// Issue classes recorded on failures.
const (
	IssueNoSQL       = "No SQL generated"
	IssueDifferent   = "Semantically different SQL"
	IssueUnclear     = "Unclear judgment"
	IssueNoJudgment  = "SQL mismatch (no judgment)"
	issueErrorPrefix = "Error: "
	verdictDifferent = "DIFFERENT"
)
