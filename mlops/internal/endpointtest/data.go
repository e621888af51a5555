package endpointtest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Row is one test sample: the ground truth label and its L2 normalized features.
type Row struct {
	Label    float64
	Features []float64
}

// Payload renders the features as a single text/csv record.
func (r Row) Payload() []byte {
	parts := make([]string, len(r.Features))
	for i, f := range r.Features {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return []byte(strings.Join(parts, ","))
}

// ParseTestData reads a headerless CSV whose first column is the label.
func ParseTestData(raw []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read test data: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("test data has no rows")
	}
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("test data line %d: need a label and at least one feature", i+1)
		}
		values := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("test data line %d column %d: %w", i+1, j+1, err)
			}
			values[j] = v
		}
		rows = append(rows, Row{Label: values[0], Features: normalize(values[1:])})
	}
	return rows, nil
}

// normalize scales v to unit L2 norm. All-zero rows are left unchanged.
func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// ParsePrediction decodes a single float prediction from an endpoint response.
func ParsePrediction(body []byte) (float64, error) {
	s := strings.TrimSpace(string(body))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse prediction %q: %w", s, err)
	}
	return v, nil
}

func rmse(sqErrSum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(sqErrSum / float64(n))
}
