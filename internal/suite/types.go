package suite

// TestCase is one golden question with its reference query.
type TestCase struct {
	ID       string `json:"id" yaml:"id"`
	Question string `json:"question" yaml:"question"`
	Expected string `json:"expected_sql" yaml:"expected_sql"`
}

// Suite is an ordered list of test cases loaded from one file.
type Suite struct {
	Name  string
	Path  string
	Cases []TestCase
}

// Len reports the number of cases.
func (s Suite) Len() int {
	return len(s.Cases)
}

// Lookup returns the case with the given ID.
func (s Suite) Lookup(id string) (TestCase, bool) {
	for _, tc := range s.Cases {
		if tc.ID == id {
			return tc, true
		}
	}
	return TestCase{}, false
}

var (
	idKeys       = []string{"id", "question_id"}
	questionKeys = []string{"question", "nl_question"}
	expectedKeys = []string{"expected_sql", "sql", "query"}
)
