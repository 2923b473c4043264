package agent

// MaxConsecutiveTimeouts is the threshold for stopping iteration.
// After this many consecutive timeout failures, the controller aborts.
const MaxConsecutiveTimeouts = 2

// MaxEmptyResponses is how many consecutive empty LLM responses the loop
// tolerates before failing the agent.
const MaxEmptyResponses = 5

// MaxParseFailures is how many consecutive unparseable responses the loop
// tolerates, feeding format guidance back each time, before failing.
const MaxParseFailures = 3

// MaxToolRepeatFailures is how many consecutive failures of the same tool
// are allowed before the controller injects a change-of-approach observation.
const MaxToolRepeatFailures = 3

// IterationState tracks loop state across iterations.
type IterationState struct {
	CurrentIteration           int
	MaxIterations              int
	LastInteractionFailed      bool
	LastErrorMessage           string
	ConsecutiveTimeoutFailures int
	EmptyResponses             int
	ParseFailures              int

	toolFailures map[string]int
}

// NewIterationState creates loop bookkeeping for maxIterations iterations.
func NewIterationState(maxIterations int) *IterationState {
	return &IterationState{
		MaxIterations: maxIterations,
		toolFailures:  make(map[string]int),
	}
}

// ShouldAbortOnTimeouts returns true if consecutive timeout failures
// have reached the threshold.
func (s *IterationState) ShouldAbortOnTimeouts() bool {
	return s.ConsecutiveTimeoutFailures >= MaxConsecutiveTimeouts
}

// RecordSuccess resets failure tracking after a successful interaction.
func (s *IterationState) RecordSuccess() {
	s.LastInteractionFailed = false
	s.LastErrorMessage = ""
	s.ConsecutiveTimeoutFailures = 0
}

// RecordFailure records a failed interaction.
func (s *IterationState) RecordFailure(errMsg string, isTimeout bool) {
	s.LastInteractionFailed = true
	s.LastErrorMessage = errMsg
	if isTimeout {
		s.ConsecutiveTimeoutFailures++
	} else {
		s.ConsecutiveTimeoutFailures = 0
	}
}

// RecordEmpty counts a whitespace-only LLM response and reports whether the
// loop should give up.
func (s *IterationState) RecordEmpty() (exceeded bool) {
	s.EmptyResponses++
	return s.EmptyResponses >= MaxEmptyResponses
}

// ResetEmpty clears the empty-response counter after a non-empty response.
func (s *IterationState) ResetEmpty() {
	s.EmptyResponses = 0
}

// RecordParseFailure counts a malformed response and reports whether the
// loop should give up re-prompting.
func (s *IterationState) RecordParseFailure() (exceeded bool) {
	s.ParseFailures++
	return s.ParseFailures >= MaxParseFailures
}

// ResetParseFailures clears the malformed-response counter.
func (s *IterationState) ResetParseFailures() {
	s.ParseFailures = 0
}

// RecordToolFailure counts a consecutive failure of the named tool and
// reports whether the repeat threshold was hit. Hitting the threshold
// resets the counter so the agent gets a fresh allowance after the
// injected guidance.
func (s *IterationState) RecordToolFailure(tool string) (hitThreshold bool) {
	if s.toolFailures == nil {
		s.toolFailures = make(map[string]int)
	}
	s.toolFailures[tool]++
	if s.toolFailures[tool] >= MaxToolRepeatFailures {
		s.toolFailures[tool] = 0
		return true
	}
	return false
}

// RecordToolSuccess resets the consecutive-failure counter for a tool.
func (s *IterationState) RecordToolSuccess(tool string) {
	if s.toolFailures != nil {
		delete(s.toolFailures, tool)
	}
}
