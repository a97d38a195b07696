package balance

import "gonum.org/v1/gonum/mat"

type relaxStage int

const (
	stageInitial relaxStage = iota
	stageRelaxing
	stageGaveUp
)

// relaxState walks the importance weights down after each failed attempt:
// every mu above step loses step, the rest drop to floor. Once an attempt
// fails with every mu at the floor there is nothing left to relax.
type relaxState struct {
	stage relaxStage
	level int
	mu    *mat.Dense
	step  float64
	floor float64
}

func newRelaxState(mu *mat.Dense, step, floor float64) *relaxState {
	return &relaxState{stage: stageInitial, mu: mat.DenseCopyOf(mu), step: step, floor: floor}
}

// fail records a failed attempt. It reports whether another attempt should
// be made.
func (s *relaxState) fail() bool {
	if s.stage == stageGaveUp {
		return false
	}
	if s.atFloor() {
		s.stage = stageGaveUp
		return false
	}
	s.mu.Apply(func(_, _ int, v float64) float64 {
		if v > s.step {
			return v - s.step
		}
		return s.floor
	}, s.mu)
	s.level++
	s.stage = stageRelaxing
	return true
}

// giveUp ends the walk without relaxing further.
func (s *relaxState) giveUp() {
	s.stage = stageGaveUp
}

func (s *relaxState) atFloor() bool {
	r, c := s.mu.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if s.mu.At(i, j) != s.floor {
				return false
			}
		}
	}
	return true
}

// kind is the outcome kind for a successful attempt in the current stage, or
// Infeasible once the state has given up.
func (s *relaxState) kind() Kind {
	switch s.stage {
	case stageInitial:
		return Solved
	case stageRelaxing:
		return Relaxed
	default:
		return Infeasible
	}
}
