package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormat(t *testing.T) {
	err := Wrap(ErrDivisionByZero, "formula", "Eval", "operator apply")
	require.Error(t, err)
	assert.Equal(t, "formula.Eval: operator apply failed: division by zero", err.Error())
	assert.True(t, Is(err, ErrDivisionByZero))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapCatalog(nil, "c", "m", "a"))
	assert.NoError(t, WrapSession(nil, "c", "m", "a"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
		check func(error) bool
	}{
		{"catalog wrap", WrapCatalog(ErrInvalidDocument, "catalog", "Load", "parse"), ClassCatalog, IsCatalog},
		{"evaluation wrap", WrapEvaluation(ErrStackUnderflow, "formula", "Eval", "pop"), ClassEvaluation, IsEvaluation},
		{"authorization wrap", WrapAuthorization(ErrNotAllowListed, "longpress", "Begin", "check"), ClassAuthorization, IsAuthorization},
		{"session wrap", WrapSession(ErrSessionLost, "xplane", "read", "recv"), ClassSession, IsSession},
		{"bare sentinel", ErrDivisionByZero, ClassEvaluation, IsEvaluation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestClassifiedErrorUnwraps(t *testing.T) {
	inner := fmt.Errorf("recvfrom: %w", ErrSessionLost)
	err := WrapSession(inner, "xplane", "readLoop", "socket read")

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, ClassSession, ce.Class)
	assert.Equal(t, "xplane", ce.Component)
	assert.True(t, Is(err, ErrSessionLost))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "catalog", ClassCatalog.String())
	assert.Equal(t, "evaluation", ClassEvaluation.String())
	assert.Equal(t, "authorization", ClassAuthorization.String())
	assert.Equal(t, "session", ClassSession.String())
	assert.Equal(t, "unknown", Class(99).String())
}

func TestMisclassifiedDefaultsToSession(t *testing.T) {
	assert.Equal(t, ClassSession, Classify(New("something odd")))
}
