package training

import (
	"math"
)

// LRScheduler computes the learning rate for a given epoch. Schedulers
// are pure functions of the epoch index and the base learning rate, so
// the same schedule can be replayed from a checkpoint.
type LRScheduler interface {
	GetLR(epoch int, baseLR float32) float32
	GetName() string
}

// StepLR decays the learning rate by gamma every stepSize epochs.
type StepLR struct {
	stepSize int
	gamma    float32
}

func NewStepLR(stepSize int, gamma float32) *StepLR {
	if stepSize < 1 {
		stepSize = 1
	}
	return &StepLR{stepSize: stepSize, gamma: gamma}
}

func (s *StepLR) GetLR(epoch int, baseLR float32) float32 {
	decays := epoch / s.stepSize
	lr := baseLR
	for i := 0; i < decays; i++ {
		lr *= s.gamma
	}
	return lr
}

func (s *StepLR) GetName() string {
	return "StepLR"
}

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	gamma float32
}

func NewExponentialLR(gamma float32) *ExponentialLR {
	return &ExponentialLR{gamma: gamma}
}

func (e *ExponentialLR) GetLR(epoch int, baseLR float32) float32 {
	return baseLR * float32(math.Pow(float64(e.gamma), float64(epoch)))
}

func (e *ExponentialLR) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLR anneals the learning rate from baseLR down to etaMin
// over tMax epochs following a half cosine.
type CosineAnnealingLR struct {
	tMax   int
	etaMin float32
}

func NewCosineAnnealingLR(tMax int, etaMin float32) *CosineAnnealingLR {
	return &CosineAnnealingLR{tMax: tMax, etaMin: etaMin}
}

func (c *CosineAnnealingLR) GetLR(epoch int, baseLR float32) float32 {
	if epoch >= c.tMax {
		return c.etaMin
	}
	cos := math.Cos(math.Pi * float64(epoch) / float64(c.tMax))
	return c.etaMin + (baseLR-c.etaMin)*float32((1+cos)/2)
}

func (c *CosineAnnealingLR) GetName() string {
	return "CosineAnnealingLR"
}

// CosineAnnealingWarmRestarts anneals the learning rate with a cosine
// schedule that restarts at baseLR every cycle. The first cycle lasts t0
// epochs and each subsequent cycle is tMult times longer.
type CosineAnnealingWarmRestarts struct {
	t0     int
	tMult  int
	etaMin float32
}

func NewCosineAnnealingWarmRestarts(t0, tMult int, etaMin float32) *CosineAnnealingWarmRestarts {
	if t0 < 1 {
		t0 = 1
	}
	if tMult < 1 {
		tMult = 1
	}
	return &CosineAnnealingWarmRestarts{t0: t0, tMult: tMult, etaMin: etaMin}
}

func (c *CosineAnnealingWarmRestarts) GetLR(epoch int, baseLR float32) float32 {
	// Locate the current cycle: cycle lengths are t0, t0*tMult,
	// t0*tMult^2, ...
	tCur := epoch
	tI := c.t0
	for tCur >= tI {
		tCur -= tI
		if c.tMult > 1 {
			tI *= c.tMult
		}
	}

	cos := math.Cos(math.Pi * float64(tCur) / float64(tI))
	return c.etaMin + (baseLR-c.etaMin)*float32((1+cos)/2)
}

func (c *CosineAnnealingWarmRestarts) GetName() string {
	return "CosineAnnealingWarmRestarts"
}
