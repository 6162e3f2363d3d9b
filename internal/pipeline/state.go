package pipeline

import "fmt"

// transitions lists every allowed status change apart from the move to
// Failed, which any non-terminal status may make.
var transitions = map[Status][]Status{
	StatusCreated:           {StatusResearching},
	StatusResearching:       {StatusResearchCompleted},
	StatusResearchCompleted: {StatusWriting},
	StatusWriting:           {StatusWritingCompleted},
	StatusWritingCompleted:  {StatusReviewing},
	StatusReviewing:         {StatusReviewCompleted},
	StatusReviewCompleted:   {StatusPublished, StatusRewriting, StatusFailed},
	StatusRewriting:         {StatusReviewing},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine tracks one run's status and refuses illegal moves.
type machine struct {
	status Status
}

func (m *machine) advance(to Status) error {
	if !CanTransition(m.status, to) {
		return fmt.Errorf("illegal status transition %s -> %s", m.status, to)
	}
	m.status = to
	return nil
}
