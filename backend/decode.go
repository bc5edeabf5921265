package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"peer-review-matrix/matrix"
)

// member is one key/value pair of a JSON object.
type member struct {
	Key   string
	Value json.RawMessage
}

// orderedObject decodes a JSON object keeping its keys in document order.
// The matrix payload encodes team order only through key order.
type orderedObject []member

func (o *orderedObject) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	members := orderedObject{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("value for %q: %w", key, err)
		}
		members = append(members, member{Key: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = members
	return nil
}

// averageKeys are the synthetic entries the backend mixes in with team keys.
var averageKeys = []string{"Average Grade Received", "Average Grade Given"}

// isAverageKey reports whether a key names one of the synthetic average
// entries rather than a team. Team names that merely start with "Average"
// are teams.
func isAverageKey(key string) bool {
	key = strings.TrimSpace(key)
	for _, k := range averageKeys {
		if strings.EqualFold(key, k) {
			return true
		}
	}
	return false
}

// DecodeMatrix flattens the nested matrix payload
//
//	{reviewedTeam: {reviewingTeam: {grade: isOutlier}, "Average Grade Received": {avg: isOutlier}}}
//
// into one record per reviewed team, reviewing team and grade. The flag of
// the nested average entry is copied to every record of that reviewed team.
// Top-level average entries are dropped.
func DecodeMatrix(r io.Reader) ([]matrix.ReviewRecord, error) {
	var top orderedObject
	if err := json.NewDecoder(r).Decode(&top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var records []matrix.ReviewRecord
	for _, reviewed := range top {
		if isAverageKey(reviewed.Key) {
			continue
		}
		var entries orderedObject
		if err := json.Unmarshal(reviewed.Value, &entries); err != nil {
			return nil, fmt.Errorf("%w: team %q: %v", ErrMalformedPayload, reviewed.Key, err)
		}

		start := len(records)
		averageIsOutlier := false
		for _, reviewing := range entries {
			grades, err := decodeGrades(reviewing.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: team %q reviewed by %q: %v", ErrMalformedPayload, reviewed.Key, reviewing.Key, err)
			}
			if isAverageKey(reviewing.Key) {
				for _, g := range grades {
					averageIsOutlier = g.outlier
				}
				continue
			}
			for _, g := range grades {
				records = append(records, matrix.ReviewRecord{
					ReviewedTeam:  matrix.TeamID(reviewed.Key),
					ReviewingTeam: matrix.TeamID(reviewing.Key),
					Grade:         g.value,
					IsOutlier:     g.outlier,
				})
			}
		}
		for i := start; i < len(records); i++ {
			records[i].AverageIsOutlier = averageIsOutlier
		}
	}
	return records, nil
}

type gradeFlag struct {
	value   float64
	outlier bool
}

func decodeGrades(data json.RawMessage) ([]gradeFlag, error) {
	var obj orderedObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	grades := make([]gradeFlag, 0, len(obj))
	for _, m := range obj {
		v, err := strconv.ParseFloat(strings.TrimSpace(m.Key), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("grade %q is not a finite number", m.Key)
		}
		var outlier bool
		if err := json.Unmarshal(m.Value, &outlier); err != nil {
			return nil, fmt.Errorf("outlier flag for grade %q: %w", m.Key, err)
		}
		grades = append(grades, gradeFlag{value: v, outlier: outlier})
	}
	return grades, nil
}
