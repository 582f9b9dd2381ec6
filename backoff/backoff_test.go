package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aleksih/kesto/pkg/api"
)

func TestConstant(t *testing.T) {
	s := NewConstant(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, s.Delay(1))
	assert.Equal(t, 250*time.Millisecond, s.Delay(10))
}

func TestExponential(t *testing.T) {
	s := NewExponential(100*time.Millisecond, 2*time.Second)

	assert.Equal(t, 100*time.Millisecond, s.Delay(1))
	assert.Equal(t, 200*time.Millisecond, s.Delay(2))
	assert.Equal(t, 400*time.Millisecond, s.Delay(3))
	assert.Equal(t, 800*time.Millisecond, s.Delay(4))

	// Capped at Max.
	assert.Equal(t, 2*time.Second, s.Delay(6))
	assert.Equal(t, 2*time.Second, s.Delay(60))
}

func TestExponentialNoCap(t *testing.T) {
	s := NewExponential(time.Millisecond, 0)
	assert.Equal(t, 8*time.Millisecond, s.Delay(4))
}

func TestJitteredBounds(t *testing.T) {
	inner := NewConstant(100 * time.Millisecond)
	s := NewJittered(inner, 0.5)

	for i := 0; i < 100; i++ {
		d := s.Delay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}

func TestJitteredZeroFraction(t *testing.T) {
	s := NewJittered(NewConstant(time.Second), 0)
	assert.Equal(t, time.Second, s.Delay(3))
}

func TestFromPolicy(t *testing.T) {
	s := FromPolicy(api.RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   150 * time.Millisecond,
	})

	assert.Equal(t, 50*time.Millisecond, s.Delay(1))
	assert.Equal(t, 100*time.Millisecond, s.Delay(2))
	assert.Equal(t, 150*time.Millisecond, s.Delay(3)) // capped
}
