package batch

import "github.com/cosmo-local-credit/counterdeploy/publish/solc"

// Reporter observes a run. Calls arrive in order on the goroutine running
// the loop: Compiled once, then AttemptStarted/AttemptFinished per attempt,
// then Finished.
type Reporter interface {
	Compiled(run Summary, artifact solc.Artifact)
	AttemptStarted(index, total int)
	AttemptFinished(a Attempt)
	Finished(s Summary)
}

type NopReporter struct{}

func (NopReporter) Compiled(Summary, solc.Artifact) {}
func (NopReporter) AttemptStarted(int, int)         {}
func (NopReporter) AttemptFinished(Attempt)         {}
func (NopReporter) Finished(Summary)                {}

type multiReporter []Reporter

// MultiReporter fans every event out to rs in order.
func MultiReporter(rs ...Reporter) Reporter {
	return multiReporter(rs)
}

func (m multiReporter) Compiled(run Summary, artifact solc.Artifact) {
	for _, r := range m {
		r.Compiled(run, artifact)
	}
}

func (m multiReporter) AttemptStarted(index, total int) {
	for _, r := range m {
		r.AttemptStarted(index, total)
	}
}

func (m multiReporter) AttemptFinished(a Attempt) {
	for _, r := range m {
		r.AttemptFinished(a)
	}
}

func (m multiReporter) Finished(s Summary) {
	for _, r := range m {
		r.Finished(s)
	}
}
