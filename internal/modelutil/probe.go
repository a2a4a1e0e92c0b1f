package modelutil

import (
	"fmt"

	"github.com/samcharles93/convtran/internal/model"
	"github.com/samcharles93/convtran/internal/nn"
)

// DefaultProbeLen is the sequence length OutputSize probes with when none
// is given.
const DefaultProbeLen = 50

// OutputSize runs m in evaluation mode on a random (1, cIn, seqLen) batch
// and returns the size of axis 1 of the output. qLen is the size of the
// last axis, or 0 when seqLen was not given (seqLen <= 0), in which case
// DefaultProbeLen is used. The training mode of m is restored.
func OutputSize(m nn.Module, cIn, seqLen int) (cOut, qLen int, err error) {
	probeLen := seqLen
	if probeLen <= 0 {
		probeLen = DefaultProbeLen
	}
	was := nn.Training(m)
	nn.SetTraining(m, false)
	defer nn.SetTraining(m, was)

	shape, err := nn.ProbeShape(m, 1, cIn, probeLen)
	if err != nil {
		return 0, 0, err
	}
	if len(shape) < 2 {
		return 0, 0, fmt.Errorf("output %v has no feature axis", shape)
	}
	cOut = shape[1]
	if seqLen > 0 {
		qLen = shape[len(shape)-1]
	}
	return cOut, qLen, nil
}

// ChangeHead replaces the head of m with one built by fn from
// (head_nf, c_out, seq_len).
func ChangeHead(m *model.Model, fn model.HeadFunc) error {
	h, err := fn(m.HeadNF, m.Config.COut, m.Config.SeqLen)
	if err != nil {
		return fmt.Errorf("%w: build head: %v", model.ErrInvalidConfig, err)
	}
	return m.SetHead(h)
}
