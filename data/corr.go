package data

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pair names two factors, in either order.
type Pair [2]string

/*
build a correlation matrix from pairwise correlations

args:
1. names : factor names, fixing the row order
2. pairs : correlation of each listed pair; missing pairs are zero

returns:
1. correlation matrix of the named factors
2. error, if a pair is unknown, out of [-1, 1] or the matrix is not positive definite
*/
func CorrMatrix(names []string, pairs map[Pair]float64) (*mat.SymDense, error) {
	idx := stockIndex(names)
	if len(idx) != len(names) {
		return nil, errors.New("duplicate factor names in correlation")
	}
	corr := mat.NewSymDense(len(names), nil)
	for i := range names {
		corr.SetSym(i, i, 1.0)
	}
	for p, v := range pairs {
		i, ok1 := idx[p[0]]
		j, ok2 := idx[p[1]]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("correlation pair %s/%s refers to an unknown factor", p[0], p[1])
		}
		if i == j {
			if v != 1 {
				return nil, fmt.Errorf("self correlation of %s must be 1", p[0])
			}
			continue
		}
		if math.Abs(v) > 1 {
			return nil, fmt.Errorf("correlation %s/%s = %v is outside [-1, 1]", p[0], p[1], v)
		}
		corr.SetSym(i, j, v)
	}
	if err := ValidateCorrelation(corr); err != nil {
		return nil, err
	}
	return corr, nil
}

/*
build a correlation matrix from dense rows

args:
1. rows : square matrix rows

returns:
1. correlation matrix
2. error, if the rows are not square, symmetric, unit diagonal and positive definite
*/
func CorrFromRows(rows [][]float64) (*mat.SymDense, error) {
	n := len(rows)
	if n == 0 {
		return nil, errors.New("empty correlation matrix")
	}
	corr := mat.NewSymDense(n, nil)
	for i := range rows {
		if len(rows[i]) != n {
			return nil, fmt.Errorf("correlation matrix is not square: row %d has %d entries, want %d", i, len(rows[i]), n)
		}
		for j := range rows[i] {
			if math.Abs(rows[i][j]-rows[j][i]) > 1e-12 {
				return nil, fmt.Errorf("correlation matrix is not symmetric at (%d, %d)", i, j)
			}
		}
		for j := i; j < n; j++ {
			corr.SetSym(i, j, rows[i][j])
		}
	}
	if err := ValidateCorrelation(corr); err != nil {
		return nil, err
	}
	return corr, nil
}

// ValidateCorrelation checks the unit diagonal, the entry range and positive definiteness.
func ValidateCorrelation(corr *mat.SymDense) error {
	n := corr.SymmetricDim()
	for i := 0; i < n; i++ {
		if math.Abs(corr.At(i, i)-1) > 1e-12 {
			return fmt.Errorf("correlation diagonal entry %d is %v, want 1", i, corr.At(i, i))
		}
		for j := 0; j < i; j++ {
			if math.Abs(corr.At(i, j)) > 1 {
				return fmt.Errorf("correlation (%d, %d) = %v is outside [-1, 1]", i, j, corr.At(i, j))
			}
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(corr); !ok {
		return errors.New("correlation matrix is not positive definite")
	}
	return nil
}

/*
sample the correlation of selected factors

args:
1. names : selected factors
2. idx : row of each factor in corrMatrix
3. corrMatrix : correlation of all factors

returns:
1. correlation matrix of the selected factors
*/
func CorrSample(names []string, idx map[string]int, corrMatrix *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(len(names), nil)
	for i := range names {
		for j := i; j < len(names); j++ {
			out.SetSym(i, j, corrMatrix.At(idx[names[i]], idx[names[j]]))
		}
	}
	return out
}

func stockIndex(names []string) map[string]int {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return idx
}
