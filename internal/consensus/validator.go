package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Validator judges training proposals. Validation is a pure, local,
// re-playable computation: two honest nodes presented with the same proposal
// reach the same verdict, which is what allows decentralized agreement
// without a leader.
type Validator struct {
	policy Policy
}

func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Validate applies the plausibility checks in order and returns nil when the
// proposal deserves an accept vote. A non-nil error names the first failed
// check; the caller casts a reject vote.
func (v *Validator) Validate(p *Proposal) error {
	if err := v.checkGradientHash(p); err != nil {
		return err
	}
	if err := v.checkLossImprovement(p.LossBefore, p.LossAfter); err != nil {
		return err
	}
	if err := v.checkGradientMagnitude(p.Gradient); err != nil {
		return err
	}
	return v.checkComputationalCost(p.SamplesTrained, p.TrainTimeMs)
}

func (v *Validator) checkGradientHash(p *Proposal) error {
	sum := sha256.Sum256(p.Gradient)
	if hex.EncodeToString(sum[:]) != p.GradientHash {
		return fmt.Errorf("gradient payload does not match declared hash")
	}
	return nil
}

func (v *Validator) checkLossImprovement(before, after float64) error {
	if math.IsNaN(before) || math.IsNaN(after) || math.IsInf(before, 0) || math.IsInf(after, 0) {
		return fmt.Errorf("loss metrics are not finite")
	}
	if before-after < v.policy.MinLossImprovement {
		return fmt.Errorf("loss improvement %g below minimum %g", before-after, v.policy.MinLossImprovement)
	}
	return nil
}

// checkGradientMagnitude decodes the payload as little-endian float32 values
// and bounds their RMS magnitude.
func (v *Validator) checkGradientMagnitude(gradient []byte) error {
	if len(gradient) == 0 || len(gradient)%4 != 0 {
		return fmt.Errorf("gradient payload is not a float32 vector")
	}

	n := len(gradient) / 4
	var sumSquares float64
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(gradient[i*4:])
		f := float64(math.Float32frombits(bits))
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("gradient contains non-finite values")
		}
		sumSquares += f * f
	}

	rms := math.Sqrt(sumSquares / float64(n))
	if rms > v.policy.MaxGradientNorm {
		return fmt.Errorf("gradient magnitude %g exceeds bound %g", rms, v.policy.MaxGradientNorm)
	}
	return nil
}

func (v *Validator) checkComputationalCost(samples int, elapsedMs int64) error {
	if samples <= 0 || elapsedMs <= 0 {
		return fmt.Errorf("implausible training claim: %d samples in %dms", samples, elapsedMs)
	}
	rate := float64(samples) / (float64(elapsedMs) / 1000.0)
	if rate < v.policy.MinSamplesPerSecond || rate > v.policy.MaxSamplesPerSecond {
		return fmt.Errorf("claimed training rate %g samples/s outside plausible range [%g, %g]",
			rate, v.policy.MinSamplesPerSecond, v.policy.MaxSamplesPerSecond)
	}
	return nil
}
