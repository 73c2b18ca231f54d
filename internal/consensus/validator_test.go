package consensus_test

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hydra-network/hydra/internal/consensus"
)

func gradientPayload(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// plausibleProposal claims a modest loss improvement over a small gradient at
// a 100 samples/s training rate, all within the default policy bounds.
func plausibleProposal() *consensus.Proposal {
	gradient := gradientPayload(0.1, -0.2, 0.05, 0.3)
	sum := sha256.Sum256(gradient)
	return &consensus.Proposal{
		ID:             "prop-1",
		Proposer:       "proposer-address",
		ModelVersion:   "v2",
		GradientHash:   hex.EncodeToString(sum[:]),
		Gradient:       gradient,
		LossBefore:     0.9,
		LossAfter:      0.85,
		SamplesTrained: 1000,
		TrainTimeMs:    10000,
		DatasetHash:    "dataset-1",
	}
}

func TestValidate(t *testing.T) {
	v := consensus.NewValidator(consensus.DefaultPolicy())

	t.Run("PlausibleProposal", func(t *testing.T) {
		assert.NoError(t, v.Validate(plausibleProposal()))
	})

	t.Run("GradientHashMismatch", func(t *testing.T) {
		p := plausibleProposal()
		p.Gradient = gradientPayload(9.9)
		err := v.Validate(p)
		assert.ErrorContains(t, err, "declared hash")
	})

	t.Run("LossGotWorse", func(t *testing.T) {
		p := plausibleProposal()
		p.LossBefore = 0.9
		p.LossAfter = 0.95
		err := v.Validate(p)
		assert.ErrorContains(t, err, "loss improvement")
	})

	t.Run("LossImprovementBelowMinimum", func(t *testing.T) {
		p := plausibleProposal()
		p.LossAfter = p.LossBefore - 0.0001
		err := v.Validate(p)
		assert.ErrorContains(t, err, "loss improvement")
	})

	t.Run("NonFiniteLoss", func(t *testing.T) {
		p := plausibleProposal()
		p.LossAfter = math.NaN()
		err := v.Validate(p)
		assert.ErrorContains(t, err, "not finite")
	})

	t.Run("GradientTooLarge", func(t *testing.T) {
		gradient := gradientPayload(100, 100, 100, 100)
		sum := sha256.Sum256(gradient)
		p := plausibleProposal()
		p.Gradient = gradient
		p.GradientHash = hex.EncodeToString(sum[:])
		err := v.Validate(p)
		assert.ErrorContains(t, err, "exceeds bound")
	})

	t.Run("NonFiniteGradient", func(t *testing.T) {
		gradient := gradientPayload(float32(math.NaN()), 0.1)
		sum := sha256.Sum256(gradient)
		p := plausibleProposal()
		p.Gradient = gradient
		p.GradientHash = hex.EncodeToString(sum[:])
		err := v.Validate(p)
		assert.ErrorContains(t, err, "non-finite")
	})

	t.Run("RaggedGradientPayload", func(t *testing.T) {
		gradient := []byte{1, 2, 3}
		sum := sha256.Sum256(gradient)
		p := plausibleProposal()
		p.Gradient = gradient
		p.GradientHash = hex.EncodeToString(sum[:])
		err := v.Validate(p)
		assert.ErrorContains(t, err, "float32 vector")
	})

	t.Run("ImplausiblyFastTraining", func(t *testing.T) {
		p := plausibleProposal()
		p.SamplesTrained = 1_000_000_000
		p.TrainTimeMs = 1
		err := v.Validate(p)
		assert.ErrorContains(t, err, "outside plausible range")
	})

	t.Run("ImplausiblySlowTraining", func(t *testing.T) {
		p := plausibleProposal()
		p.SamplesTrained = 1
		p.TrainTimeMs = 1_000_000
		err := v.Validate(p)
		assert.ErrorContains(t, err, "outside plausible range")
	})

	t.Run("ZeroedTrainingClaim", func(t *testing.T) {
		p := plausibleProposal()
		p.SamplesTrained = 0
		err := v.Validate(p)
		assert.ErrorContains(t, err, "implausible training claim")
	})
}
