package scorer

import (
	"fmt"
	"math"

	"flow-threat-detector/internal/model"
)

// Matrix is a dense row-major feature matrix. Scoring kernels operate
// on whole matrices so the hot path stays free of per-flow branching.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}
}

// Row returns a view of row i.
func (m Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Set writes one cell.
func (m Matrix) Set(row, col int, v float64) {
	m.Data[row*m.Cols+col] = v
}

// MulVec computes out[i] = dot(row_i, w) + bias for every row.
func (m Matrix) MulVec(w []float64, bias float64) ([]float64, error) {
	if len(w) != m.Cols {
		return nil, fmt.Errorf("weight vector length %d does not match %d columns", len(w), m.Cols)
	}

	out := make([]float64, m.Rows)
	for i := 0; i < m.Rows; i++ {
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		var sum float64
		for j, v := range row {
			sum += v * w[j]
		}
		out[i] = sum + bias
	}
	return out, nil
}

// HasNonFinite reports whether the matrix contains NaN or Inf cells.
func (m Matrix) HasNonFinite() bool {
	for _, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// hstack concatenates extra column vectors to the right of m. Every
// column must have exactly m.Rows entries.
func hstack(m Matrix, columns ...[]float64) Matrix {
	out := NewMatrix(m.Rows, m.Cols+len(columns))
	for i := 0; i < m.Rows; i++ {
		src := m.Row(i)
		dst := out.Row(i)
		copy(dst, src)
		for j, col := range columns {
			dst[m.Cols+j] = col[i]
		}
	}
	return out
}

// sigmoidInPlace maps raw scores to probabilities in [0,1].
func sigmoidInPlace(z []float64) {
	for i, v := range z {
		z[i] = 1 / (1 + math.Exp(-v))
	}
}

// buildMatrix assembles the feature matrix for a batch in the declared
// column order. A declared column absent from every record is either
// zero-filled (default) or reported via FeatureMismatchError (strict).
func buildMatrix(records []model.FlowRecord, features []string, strict bool) (Matrix, []string, error) {
	m := NewMatrix(len(records), len(features))

	var missing []string
	for col, name := range features {
		present := false
		for row := range records {
			if v, ok := records[row].Features[name]; ok {
				m.Set(row, col, v)
				present = true
			}
		}
		if !present {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 && strict {
		return Matrix{}, missing, &FeatureMismatchError{Missing: missing}
	}
	return m, missing, nil
}

// FeatureMismatchError reports declared feature columns absent from a
// batch when strict feature checking is enabled.
type FeatureMismatchError struct {
	Missing []string
}

func (e *FeatureMismatchError) Error() string {
	return fmt.Sprintf("batch is missing required feature columns: %v", e.Missing)
}
