package optimizer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"diaharness/internal/agentconf"
	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/metrics"
	"diaharness/internal/suite"
)

const seedInstructions = "You translate questions into SQL over the sales table.\n" +
	"Always join orders to customers on customer_id.\n" +
	"Use the formula revenue = price * quantity for every revenue metric.\n" +
	"Aggregate with SUM and GROUP BY when asked for totals.\n"

func seedConfig() agentconf.Configuration {
	return agentconf.Configuration{Instructions: seedInstructions, Description: "orders(id, customer_id, price, quantity)"}
}

func trainSuite(n int) suite.Suite {
	s := suite.Suite{Name: "train"}
	for i := 0; i < n; i++ {
		s.Cases = append(s.Cases, suite.TestCase{ID: fmt.Sprintf("q%02d", i), Question: fmt.Sprintf("question %d", i), Expected: "SELECT 1"})
	}
	return s
}

// scriptedEvaluator returns the next scripted accuracy for the training suite
// and a fixed accuracy for any other suite.
type scriptedEvaluator struct {
	mu         sync.Mutex
	accuracies []float64
	calls      int
	holdoutAcc float64
	holdouts   int
	err        error
	evaluated  []string
	deployer   *fakeDeployer
}

func (e *scriptedEvaluator) Evaluate(ctx context.Context, s suite.Suite, repeats int) (evaluator.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return evaluator.Report{}, e.err
	}
	acc := e.holdoutAcc
	if s.Name == "train" {
		if e.calls >= len(e.accuracies) {
			return evaluator.Report{}, fmt.Errorf("no scripted accuracy for call %d", e.calls+1)
		}
		acc = e.accuracies[e.calls]
		e.calls++
		if e.deployer != nil {
			e.evaluated = append(e.evaluated, e.deployer.current().Instructions)
		}
	} else {
		e.holdouts++
	}
	passing := int(acc / 100 * float64(len(s.Cases)))
	var outcomes []metrics.Outcome
	for i, tc := range s.Cases {
		o := metrics.Outcome{CaseID: tc.ID, CaseIndex: i, Question: tc.Question, Expected: tc.Expected, Generated: "SELECT 2"}
		if i < passing {
			o.Passed = true
			o.Generated = tc.Expected
		} else {
			o.Explanation = "Final Judgment: DIFFERENT"
		}
		outcomes = append(outcomes, o)
	}
	return evaluator.Report{Suite: s.Name, Outcomes: outcomes, Metrics: metrics.Aggregate(outcomes, metrics.WorstRepeat)}, nil
}

type fakeDeployer struct {
	mu       sync.Mutex
	deployed agentconf.Configuration
	applied  []agentconf.Configuration
	applyErr error
}

func (d *fakeDeployer) Apply(ctx context.Context, cfg agentconf.Configuration) (Applied, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.applyErr != nil {
		return Applied{}, d.applyErr
	}
	d.deployed = cfg.Clone()
	d.applied = append(d.applied, cfg.Clone())
	return Applied{Snapshot: cfg.Clone(), Attempts: 1}, nil
}

func (d *fakeDeployer) Current(ctx context.Context) (agentconf.Configuration, error) {
	return d.current(), nil
}

func (d *fakeDeployer) current() agentconf.Configuration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deployed.Clone()
}

func (d *fakeDeployer) lastApplied() (agentconf.Configuration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.applied) == 0 {
		return agentconf.Configuration{}, false
	}
	return d.applied[len(d.applied)-1], true
}

// ruleImprover appends one numbered rule per proposal.
type ruleImprover struct {
	requests []ProposalRequest
	err      error
	shrink   bool
}

func (i *ruleImprover) Propose(ctx context.Context, req ProposalRequest) (Proposal, error) {
	i.requests = append(i.requests, req)
	if i.err != nil {
		return Proposal{}, i.err
	}
	candidate := req.Current.Clone()
	if i.shrink {
		candidate.Instructions = strings.SplitN(candidate.Instructions, "\n", 2)[0]
		return Proposal{Candidate: candidate, ChangeDescription: "shorten"}, nil
	}
	candidate.Instructions += fmt.Sprintf("Rule %d: never select columns that were not requested.\n", req.Iteration)
	return Proposal{Candidate: candidate, ChangeDescription: fmt.Sprintf("add rule %d", req.Iteration)}, nil
}

type recordingObserver struct {
	states   []State
	recorded []int
	finished *Result
}

func (o *recordingObserver) StateChanged(_ int, state State) { o.states = append(o.states, state) }

func (o *recordingObserver) IterationRecorded(rec ledger.IterationRecord) {
	o.recorded = append(o.recorded, rec.Iteration)
}

func (o *recordingObserver) RunFinished(result Result) { o.finished = &result }
