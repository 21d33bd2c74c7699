package aggregation

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

const matrixTolerance = 1e-6

// CheckTransitionMatrix requires a square matrix with entries in [0, 1] and
// rows summing to one.
func CheckTransitionMatrix(t mat.Matrix) error {
	r, c := t.Dims()
	if r != c || r == 0 {
		return fmt.Errorf("%w: transition matrix is %dx%d", ErrBadMatrix, r, c)
	}
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			v := t.At(i, j)
			if v < -matrixTolerance || v > 1+matrixTolerance {
				return fmt.Errorf("%w: transition entry (%d, %d) = %v outside [0, 1]", ErrBadMatrix, i, j, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > matrixTolerance {
			return fmt.Errorf("%w: transition row %d sums to %v", ErrBadMatrix, i, sum)
		}
	}
	return nil
}

// CheckGeneratorMatrix requires non-negative off-diagonal entries and rows
// summing to zero.
func CheckGeneratorMatrix(g mat.Matrix) error {
	r, c := g.Dims()
	if r != c || r == 0 {
		return fmt.Errorf("%w: generator matrix is %dx%d", ErrBadMatrix, r, c)
	}
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			v := g.At(i, j)
			if i != j && v < -matrixTolerance {
				return fmt.Errorf("%w: generator entry (%d, %d) = %v is negative", ErrBadMatrix, i, j, v)
			}
			sum += v
		}
		if math.Abs(sum) > matrixTolerance {
			return fmt.Errorf("%w: generator row %d sums to %v", ErrBadMatrix, i, sum)
		}
	}
	return nil
}

// SanitiseTransitionMatrix floors entries at zero and renormalises each row.
func SanitiseTransitionMatrix(t *mat.Dense) {
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			if t.At(i, j) < 0 {
				t.Set(i, j, 0)
			}
			sum += t.At(i, j)
		}
		if sum > 0 {
			for j := 0; j < c; j++ {
				t.Set(i, j, t.At(i, j)/sum)
			}
		}
	}
}

// Generator returns a valid generator matrix close to log(t): the matrix
// logarithm with negative off-diagonal entries moved onto the diagonal.
func Generator(t mat.Matrix) (*mat.Dense, error) {
	l, err := logm(t)
	if err != nil {
		return nil, err
	}
	n, _ := l.Dims()
	for i := 0; i < n; i++ {
		off := 0.0
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if l.At(i, j) < 0 {
				l.Set(i, j, 0)
			}
			off += l.At(i, j)
		}
		l.Set(i, i, -off)
	}
	return l, nil
}

// RescaleTransitionMatrix turns a one year transition matrix into the one
// for horizon t years via exp(t*log(m)).
func RescaleTransitionMatrix(m mat.Matrix, t float64) (*mat.Dense, error) {
	g, err := Generator(m)
	if err != nil {
		return nil, err
	}
	if err := CheckGeneratorMatrix(g); err != nil {
		return nil, err
	}
	g.Scale(t, g)
	var out mat.Dense
	out.Exp(g)
	if err := CheckTransitionMatrix(&out); err != nil {
		SanitiseTransitionMatrix(&out)
	}
	return &out, nil
}

// logm takes square roots until the matrix is near the identity, then sums
// the log series and scales back.
func logm(a mat.Matrix) (*mat.Dense, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("%w: cannot take log of %dx%d matrix", ErrBadMatrix, n, c)
	}
	x := mat.DenseCopyOf(a)
	id := identity(n)
	k := 0
	for ; k < 40; k++ {
		var d mat.Dense
		d.Sub(x, id)
		if mat.Norm(&d, 1) < 0.25 {
			break
		}
		s, err := sqrtm(x)
		if err != nil {
			return nil, err
		}
		x = s
	}
	var e mat.Dense
	e.Sub(x, id)
	sum := mat.NewDense(n, n, nil)
	term := mat.DenseCopyOf(&e)
	for p := 1; p <= 200; p++ {
		var add mat.Dense
		add.Scale(math.Pow(-1, float64(p+1))/float64(p), term)
		sum.Add(sum, &add)
		if mat.Norm(&add, 1) < 1e-16 {
			break
		}
		var next mat.Dense
		next.Mul(term, &e)
		term = &next
	}
	sum.Scale(math.Pow(2, float64(k)), sum)
	return sum, nil
}

// sqrtm by Denman-Beavers iteration.
func sqrtm(a *mat.Dense) (*mat.Dense, error) {
	n, _ := a.Dims()
	y := mat.DenseCopyOf(a)
	z := identity(n)
	for i := 0; i < 100; i++ {
		var yi, zi mat.Dense
		if err := yi.Inverse(y); err != nil {
			return nil, fmt.Errorf("matrix square root: %w", ErrSingular)
		}
		if err := zi.Inverse(z); err != nil {
			return nil, fmt.Errorf("matrix square root: %w", ErrSingular)
		}
		var ny, nz mat.Dense
		ny.Add(y, &zi)
		ny.Scale(0.5, &ny)
		nz.Add(z, &yi)
		nz.Scale(0.5, &nz)
		var diff mat.Dense
		diff.Sub(&ny, y)
		y, z = &ny, &nz
		if mat.Norm(&diff, 1) < 1e-14 {
			break
		}
	}
	return y, nil
}

func identity(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}

// TransitionMemo caches rescaled transition matrices per cube date index and
// matrix name. Invalidate when the one year matrices change.
type TransitionMemo struct {
	mu sync.Mutex
	m  map[int]map[string]*mat.Dense
}

func NewTransitionMemo() *TransitionMemo {
	return &TransitionMemo{m: map[int]map[string]*mat.Dense{}}
}

func (c *TransitionMemo) Get(date int, name string) (*mat.Dense, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[date][name]
	return m, ok
}

func (c *TransitionMemo) Put(date int, name string, m *mat.Dense) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m[date] == nil {
		c.m[date] = map[string]*mat.Dense{}
	}
	c.m[date][name] = m
}

func (c *TransitionMemo) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = map[int]map[string]*mat.Dense{}
}
