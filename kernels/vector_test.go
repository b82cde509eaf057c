package kernels

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const floatTolerance = 1e-4

// randomSlice returns floats in [-1, 1)
func randomSlice(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = rand.Float32()*2 - 1
	}
	return s
}

// Go reference for matMul
func matMulGo(a []float32, rows, inner int, b []float32, cols int) []float32 {
	out := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sum float32
			for k := 0; k < inner; k++ {
				sum += a[i*inner+k] * b[k*cols+j]
			}
			out[i*cols+j] = sum
		}
	}
	return out
}

func assertFloatsNear(t *testing.T, want, got []float32) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], floatTolerance, "index %d", i)
	}
}

func TestAddMulInPlace(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 3, 4, 7, 64, 1023} {
		a, b := randomSlice(n), randomSlice(n)
		sum := make([]float32, n)
		prod := make([]float32, n)
		for i := range a {
			sum[i] = a[i] + b[i]
			prod[i] = a[i] * b[i]
		}

		x := append([]float32(nil), a...)
		addInPlace(x, b)
		assertFloatsNear(t, sum, x)

		y := append([]float32(nil), a...)
		mulInPlace(y, b)
		assertFloatsNear(t, prod, y)
	}
}

func TestMatMul(t *testing.T) {
	t.Parallel()
	tests := []struct{ rows, inner, cols int }{
		{1, 1, 1}, {2, 3, 4}, {33, 17, 40}, {64, 64, 64},
	}
	for _, tt := range tests {
		a, b := randomSlice(tt.rows*tt.inner), randomSlice(tt.inner*tt.cols)
		out := make([]float32, tt.rows*tt.cols)
		for i := range out {
			out[i] = 99 // must be overwritten
		}
		matMul(a, b, out, tt.rows, tt.inner, tt.cols)
		assertFloatsNear(t, matMulGo(a, tt.rows, tt.inner, b, tt.cols), out)
	}
}

func TestSoftmaxInPlace(t *testing.T) {
	t.Parallel()
	x := []float32{1, 2, 3}
	softmaxInPlace(x)

	var sum float32
	for _, v := range x {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, floatTolerance)
	assert.Greater(t, x[2], x[1])
	e := math.Exp(1)
	assert.InDelta(t, 1/(1+e+e*e), x[0], floatTolerance)
}

func TestElementwise(t *testing.T) {
	t.Parallel()
	x := []float32{1, 2, 3, 4}
	sqrPlusX(x)
	assert.Equal(t, []float32{2, 6, 12, 20}, x)

	y := []float32{-1, 2, -3, 4}
	relu(y)
	assert.Equal(t, []float32{0, 2, 0, 4}, y)

	z := []float32{0, 2, -2}
	sigmoid(z)
	assertFloatsNear(t, []float32{0.5, float32(1 / (1 + math.Exp(-2))), float32(1 / (1 + math.Exp(2)))}, z)

	w := []float32{0, 0.5}
	tanh(w)
	assert.Zero(t, w[0])
	assert.InDelta(t, math.Tanh(0.5), w[1], 1e-2, "rational approximation")
}

func BenchmarkAddInPlace16K(b *testing.B) {
	x, y := randomSlice(16384), randomSlice(16384)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		addInPlace(x, y)
	}
}

func BenchmarkMatMul64(b *testing.B) {
	x, y := randomSlice(64*64), randomSlice(64*64)
	out := make([]float32, 64*64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		matMul(x, y, out, 64, 64, 64)
	}
}
