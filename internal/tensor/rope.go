package tensor

import "math"

// RoPEInvFreq returns the headDim/2 inverse frequencies theta^(-2i/headDim).
func RoPEInvFreq(headDim int, theta float64) []float64 {
	half := headDim / 2
	inv := make([]float64, half)
	for i := range inv {
		inv[i] = 1 / math.Pow(theta, float64(2*i)/float64(headDim))
	}
	return inv
}

// ApplyRoPE rotates each of the nHead heads in x for position pos using the
// half-split layout (element i pairs with i+headDim/2), which is what
// Hugging Face Llama and Qwen2 checkpoints expect.
func ApplyRoPE(x []float32, nHead, headDim, pos int, invFreq []float64) {
	if headDim%2 != 0 {
		panic("tensor: RoPE needs an even head dimension")
	}
	half := headDim / 2
	for i := 0; i < half; i++ {
		sin, cos := math.Sincos(float64(pos) * invFreq[i])
		c, s := float32(cos), float32(sin)
		for h := 0; h < nHead; h++ {
			base := h * headDim
			a := x[base+i]
			b := x[base+i+half]
			x[base+i] = a*c - b*s
			x[base+i+half] = b*c + a*s
		}
	}
}
