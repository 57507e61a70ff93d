package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"rsgnet/internal/model"
)

// Scoped returns a generator seeded from seed alone. Draws from it never
// advance any other source.
func Scoped(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(uint64(seed)))
}

// NormalDense fills a rows x cols matrix with N(0, std) draws multiplied by scale.
func NormalDense(src rand.Source, rows, cols int, std, scale float64) *mat.Dense {
	dist := distuv.Normal{Mu: 0, Sigma: std, Src: src}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = dist.Rand() * scale
	}
	return mat.NewDense(rows, cols, data)
}

// UniformDense fills a rows x cols matrix with U(-bound, bound) draws.
func UniformDense(src rand.Source, rows, cols int, bound float64) *mat.Dense {
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(rows, cols, data)
}

// Linear is y = W x (+ b) with W shaped out x in.
type Linear struct {
	W *mat.Dense
	B *mat.VecDense
}

// NewLinear draws W and the optional bias from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(src rand.Source, in, out int, bias bool) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	l := &Linear{W: UniformDense(src, out, in, bound)}
	if bias {
		b := UniformDense(src, 1, out, bound)
		l.B = mat.NewVecDense(out, b.RawMatrix().Data)
	}
	return l
}

func (l *Linear) In() int {
	_, c := l.W.Dims()
	return c
}

func (l *Linear) Out() int {
	r, _ := l.W.Dims()
	return r
}

func (l *Linear) Apply(x []float64) ([]float64, error) {
	if len(x) != l.In() {
		return nil, fmt.Errorf("%w: linear input got=%d want=%d", model.ErrDimensionMismatch, len(x), l.In())
	}
	y := mat.NewVecDense(l.Out(), nil)
	y.MulVec(l.W, mat.NewVecDense(len(x), append([]float64(nil), x...)))
	if l.B != nil {
		y.AddVec(y, l.B)
	}
	return y.RawVector().Data, nil
}

// Tensors returns the layer weights as named tensors under prefix.
func (l *Linear) Tensors(prefix string) []model.WeightTensor {
	out := []model.WeightTensor{DenseTensor(prefix+".weight", l.W)}
	if l.B != nil {
		out = append(out, model.WeightTensor{
			Name:  prefix + ".bias",
			Shape: []int{l.B.Len()},
			Data:  append([]float64(nil), l.B.RawVector().Data...),
		})
	}
	return out
}

// DenseTensor copies m into a named row-major tensor.
func DenseTensor(name string, m *mat.Dense) model.WeightTensor {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return model.WeightTensor{Name: name, Shape: []int{r, c}, Data: data}
}

// LoadDense copies tensor data into m after checking the shape.
func LoadDense(m *mat.Dense, tensor model.WeightTensor) error {
	r, c := m.Dims()
	if len(tensor.Shape) != 2 || tensor.Shape[0] != r || tensor.Shape[1] != c || len(tensor.Data) != r*c {
		return fmt.Errorf("%w: tensor %s shape=%v want=[%d %d]", model.ErrDimensionMismatch, tensor.Name, tensor.Shape, r, c)
	}
	for i := 0; i < r; i++ {
		copy(m.RawRowView(i), tensor.Data[i*c:(i+1)*c])
	}
	return nil
}

// LoadVec copies tensor data into v after checking the length.
func LoadVec(v *mat.VecDense, tensor model.WeightTensor) error {
	n := v.Len()
	if len(tensor.Shape) != 1 || tensor.Shape[0] != n || len(tensor.Data) != n {
		return fmt.Errorf("%w: tensor %s shape=%v want=[%d]", model.ErrDimensionMismatch, tensor.Name, tensor.Shape, n)
	}
	for i := 0; i < n; i++ {
		v.SetVec(i, tensor.Data[i])
	}
	return nil
}

// Load restores the layer from the tensors produced by Tensors(prefix).
func (l *Linear) Load(prefix string, snapshot model.Snapshot) error {
	w, ok := snapshot.Tensor(prefix + ".weight")
	if !ok {
		return fmt.Errorf("%w: missing tensor %s.weight", model.ErrDimensionMismatch, prefix)
	}
	if err := LoadDense(l.W, w); err != nil {
		return err
	}
	if l.B == nil {
		return nil
	}
	b, ok := snapshot.Tensor(prefix + ".bias")
	if !ok {
		return fmt.Errorf("%w: missing tensor %s.bias", model.ErrDimensionMismatch, prefix)
	}
	return LoadVec(l.B, b)
}

// NumParams counts weights plus bias entries.
func (l *Linear) NumParams() int {
	n := l.In() * l.Out()
	if l.B != nil {
		n += l.B.Len()
	}
	return n
}

// AppendParams appends the layer parameters, weights row-major then bias.
func (l *Linear) AppendParams(dst []float64) []float64 {
	for i := 0; i < l.Out(); i++ {
		dst = append(dst, l.W.RawRowView(i)...)
	}
	if l.B != nil {
		dst = append(dst, l.B.RawVector().Data...)
	}
	return dst
}

// ReadParams consumes NumParams values from src and returns the remainder.
func (l *Linear) ReadParams(src []float64) []float64 {
	in := l.In()
	for i := 0; i < l.Out(); i++ {
		copy(l.W.RawRowView(i), src[:in])
		src = src[in:]
	}
	if l.B != nil {
		for i := 0; i < l.B.Len(); i++ {
			l.B.SetVec(i, src[i])
		}
		src = src[l.B.Len():]
	}
	return src
}
