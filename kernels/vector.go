package kernels

import "math"

// SIMD-friendly loops over float32 slices with manual unrolling
const unrollFactor = 4

// addInPlace computes a[i] += b[i] for the common prefix of a and b.
func addInPlace(a, b []float32) {
	n := min(len(a), len(b))
	i := 0
	for ; i+unrollFactor <= n; i += unrollFactor {
		a[i] += b[i]
		a[i+1] += b[i+1]
		a[i+2] += b[i+2]
		a[i+3] += b[i+3]
	}
	for ; i < n; i++ {
		a[i] += b[i]
	}
}

// mulInPlace computes a[i] *= b[i] for the common prefix of a and b.
func mulInPlace(a, b []float32) {
	n := min(len(a), len(b))
	i := 0
	for ; i+unrollFactor <= n; i += unrollFactor {
		a[i] *= b[i]
		a[i+1] *= b[i+1]
		a[i+2] *= b[i+2]
		a[i+3] *= b[i+3]
	}
	for ; i < n; i++ {
		a[i] *= b[i]
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range min(len(a), len(b)) {
		sum += a[i] * b[i]
	}
	return sum
}

// matMul writes a[rows x inner] * b[inner x cols] into out[rows x cols]
// with cache blocking.
func matMul(a, b, out []float32, rows, inner, cols int) {
	const blockSize = 32
	clear(out[:rows*cols])
	for ii := 0; ii < rows; ii += blockSize {
		for kk := 0; kk < inner; kk += blockSize {
			for jj := 0; jj < cols; jj += blockSize {
				iEnd := min(ii+blockSize, rows)
				kEnd := min(kk+blockSize, inner)
				jEnd := min(jj+blockSize, cols)
				for i := ii; i < iEnd; i++ {
					for k := kk; k < kEnd; k++ {
						av := a[i*inner+k]
						row := out[i*cols : i*cols+cols]
						for j := jj; j < jEnd; j++ {
							row[j] += av * b[k*cols+j]
						}
					}
				}
			}
		}
	}
}

// softmaxInPlace is the numerically stable softmax.
func softmaxInPlace(x []float32) {
	if len(x) == 0 {
		return
	}
	maxVal := float32(math.Inf(-1))
	for _, v := range x {
		maxVal = max(maxVal, v)
	}
	var sum float32
	for i, v := range x {
		x[i] = float32(math.Exp(float64(v - maxVal)))
		sum += x[i]
	}
	inv := 1 / sum
	for i := range x {
		x[i] *= inv
	}
}
