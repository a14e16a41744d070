package optimization

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubOptimizer struct {
	Base
}

func (s *stubOptimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	return &Result{Solution: &Solution{Parameters: req.InitialPoint}}, nil
}

func (s *stubOptimizer) Support() Support { return Support{InitialPoint: Required} }

func (s *stubOptimizer) Configuration() Configuration {
	return Configuration{Name: "stub", Support: s.Support()}
}

func TestRegistry(t *testing.T) {
	Register("test_stub", func(options map[string]interface{}, batchMode bool, logger *zap.Logger) (Optimizer, error) {
		return &stubOptimizer{Base: NewBase(batchMode)}, nil
	})

	assert.Contains(t, Names(), "test_stub")
	assert.Panics(t, func() {
		Register("test_stub", func(map[string]interface{}, bool, *zap.Logger) (Optimizer, error) { return nil, nil })
	})

	opt, err := New("test_stub", nil, true, nil)
	require.NoError(t, err)
	assert.True(t, opt.(*stubOptimizer).BatchMode())

	_, err = New("does_not_exist", nil, false, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
