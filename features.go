package kws

import "fmt"

// FeatureMatrix holds MFCCs as NumCoefficients rows of NumFrames values:
// Rows[j][i] is coefficient j of frame i.
type FeatureMatrix struct {
	Rows [][]float64
}

// NumCoefficients returns the number of rows.
func (m FeatureMatrix) NumCoefficients() int {
	return len(m.Rows)
}

// NumFrames returns the number of columns.
func (m FeatureMatrix) NumFrames() int {
	if len(m.Rows) == 0 {
		return 0
	}
	return len(m.Rows[0])
}

// reshapeCoefficients de-interleaves a frame-major stream into a matrix:
// frame i's coefficients are flat[i*numCoeffs : (i+1)*numCoeffs] and land in
// column i of each row.
func reshapeCoefficients(flat []float64, numCoeffs int) (FeatureMatrix, error) {
	if numCoeffs <= 0 {
		return FeatureMatrix{}, fmt.Errorf("kws: invalid coefficient count %d", numCoeffs)
	}
	if len(flat) == 0 || len(flat)%numCoeffs != 0 {
		return FeatureMatrix{}, fmt.Errorf("kws: %d coefficients is not a multiple of %d", len(flat), numCoeffs)
	}
	nFrames := len(flat) / numCoeffs
	backing := make([]float64, len(flat))
	rows := make([][]float64, numCoeffs)
	for j := range rows {
		rows[j] = backing[j*nFrames : (j+1)*nFrames : (j+1)*nFrames]
	}
	for i := 0; i < nFrames; i++ {
		frame := flat[i*numCoeffs : (i+1)*numCoeffs]
		for j, v := range frame {
			rows[j][i] = v
		}
	}
	return FeatureMatrix{Rows: rows}, nil
}

// Flatten writes m into dst in the given layout and returns the number of
// values written. dst must hold NumCoefficients*NumFrames values.
func (m FeatureMatrix) Flatten(dst []float32, layout Layout) (int, error) {
	nc, nf := m.NumCoefficients(), m.NumFrames()
	if len(dst) < nc*nf {
		return 0, fmt.Errorf("kws: flatten needs %d values, have %d: %w", nc*nf, len(dst), ErrShapeMismatch)
	}
	for j, row := range m.Rows {
		if len(row) != nf {
			return 0, fmt.Errorf("kws: row %d has %d frames, want %d: %w", j, len(row), nf, ErrShapeMismatch)
		}
	}
	switch layout {
	case LayoutFrameMajor:
		for j, row := range m.Rows {
			for i, v := range row {
				dst[i*nc+j] = float32(v)
			}
		}
	case LayoutCoefficientMajor, "":
		for j, row := range m.Rows {
			off := j * nf
			for i, v := range row {
				dst[off+i] = float32(v)
			}
		}
	default:
		return 0, fmt.Errorf("kws: unknown layout %q", layout)
	}
	return nc * nf, nil
}
