package agent

import "duck-analyst/internal/domain"

// MaxAttempts bounds generation attempts per turn. Options may lower it but
// never raise it.
const MaxAttempts = 3

// next is the transition function of the turn state machine. It looks only
// at the data the completed step recorded in s.
//
//	routing     -> generating | executing (predefined) | summarizing | clarifying
//	generating  -> validating
//	validating  -> executing | generating (retry) | summarizing (budget exhausted)
//	executing   -> summarizing
//	summarizing -> done
func next(s *domain.SessionState, maxAttempts int) domain.TurnState {
	switch s.State {
	case domain.StateRouting:
		if s.Predefined {
			if s.Verdict != nil && s.Verdict.IsValid {
				return domain.StateExecuting
			}
			return domain.StateSummarizing
		}
		switch s.Intent {
		case domain.IntentAmbiguous:
			return domain.StateClarifying
		case domain.IntentChat:
			return domain.StateSummarizing
		case domain.IntentSummarize:
			if priorResult(s) != nil {
				return domain.StateSummarizing
			}
		}
		return domain.StateGenerating
	case domain.StateGenerating:
		return domain.StateValidating
	case domain.StateValidating:
		if s.Verdict != nil && s.Verdict.IsValid {
			return domain.StateExecuting
		}
		if s.RetryCount < maxAttempts {
			return domain.StateGenerating
		}
		return domain.StateSummarizing
	case domain.StateExecuting:
		return domain.StateSummarizing
	case domain.StateSummarizing:
		return domain.StateDone
	}
	return s.State
}

// priorResult returns the most recent non-empty result in the session
// history.
func priorResult(s *domain.SessionState) *domain.TurnRecord {
	for i := len(s.History) - 1; i >= 0; i-- {
		if r := s.History[i].Result; r != nil && r.RowCount > 0 {
			return &s.History[i]
		}
	}
	return nil
}
