package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowKeepsMostRecent(t *testing.T) {
	assert := assert.New(t)

	w := NewSampleWindow(3)
	for i := 1; i <= 10; i++ {
		w.Update(float64(i))
		if i <= 3 {
			assert.Equal(i, w.Len())
		} else {
			assert.Equal(3, w.Len())
		}
	}
	assert.Equal([]float64{8, 9, 10}, w.Samples())
}

func TestWindowMean(t *testing.T) {
	assert := assert.New(t)

	w := NewSampleWindow(30)
	values := []float64{1.5, -2.25, 10, 0, 3.125}
	var sum float64
	for i, v := range values {
		w.Update(v)
		sum += v
		assert.InDelta(sum/float64(i+1), w.Mean(), 1e-9)
	}
	assert.Equal(10.0, w.Max())
}

func TestWindowCapacityClamp(t *testing.T) {
	assert := assert.New(t)

	w := NewSampleWindow(0)
	assert.Equal(1, w.Capacity())
	w.Update(4)
	w.Update(7)
	assert.Equal([]float64{7}, w.Samples())
	assert.Equal(7.0, w.Mean())

	w = NewSampleWindow(-5)
	assert.Equal(1, w.Capacity())
}

func TestWindowShrink(t *testing.T) {
	assert := assert.New(t)

	w := NewSampleWindow(5)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Update(v)
	}
	w.SetCapacity(2)
	assert.Equal([]float64{4, 5}, w.Samples())
	w.Clear()
	assert.Equal(0, w.Len())
	assert.Equal(0.0, w.Mean())
}
