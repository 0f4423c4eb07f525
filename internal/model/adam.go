package model

import "math"

const DefaultLearningRate = 0.001

// Adam holds the adaptive-moment-estimation hyperparameters. Zero fields
// take the usual defaults.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

func (a Adam) withDefaults() Adam {
	if a.LearningRate <= 0 {
		a.LearningRate = DefaultLearningRate
	}
	if a.Beta1 <= 0 {
		a.Beta1 = 0.9
	}
	if a.Beta2 <= 0 {
		a.Beta2 = 0.999
	}
	if a.Epsilon <= 0 {
		a.Epsilon = 1e-7
	}
	return a
}

// adamState keeps the first and second moment estimates of every parameter
// slice, in the order they are passed to step.
type adamState struct {
	cfg  Adam
	t    int
	m, v [][]float64
}

func newAdamState(cfg Adam) *adamState {
	return &adamState{cfg: cfg.withDefaults()}
}

func (s *adamState) step(params, grads [][]float64) {
	if s.m == nil {
		s.m = make([][]float64, len(params))
		s.v = make([][]float64, len(params))
		for k, p := range params {
			s.m[k] = make([]float64, len(p))
			s.v[k] = make([]float64, len(p))
		}
	}
	s.t++
	b1, b2 := s.cfg.Beta1, s.cfg.Beta2
	c1 := 1 - math.Pow(b1, float64(s.t))
	c2 := 1 - math.Pow(b2, float64(s.t))
	for k, p := range params {
		g, m, v := grads[k], s.m[k], s.v[k]
		for i := range p {
			m[i] = b1*m[i] + (1-b1)*g[i]
			v[i] = b2*v[i] + (1-b2)*g[i]*g[i]
			p[i] -= s.cfg.LearningRate * (m[i] / c1) / (math.Sqrt(v[i]/c2) + s.cfg.Epsilon)
		}
	}
}
