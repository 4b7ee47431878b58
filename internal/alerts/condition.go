package alerts

import (
	"fmt"
	"strconv"
	"strings"
)

// Fields a condition may reference.
const (
	FieldStressScore     = "stress_score"
	FieldReadings        = "readings"
	FieldValidReadings   = "valid_readings"
	FieldDroppedReadings = "dropped_readings"
)

var knownFields = map[string]bool{
	FieldStressScore:     true,
	FieldReadings:        true,
	FieldValidReadings:   true,
	FieldDroppedReadings: true,
}

// condition is a parsed "field operator value" expression, e.g.
//
//	stress_score > 5
//	valid_readings < 10
//	dropped_readings >= 1
type condition struct {
	field     string
	op        string
	threshold float64
}

func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("alerts: condition %q: want \"field op value\"", expr)
	}
	c := condition{field: parts[0], op: parts[1]}
	if !knownFields[c.field] {
		return condition{}, fmt.Errorf("alerts: condition %q: unknown field %q", expr, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==":
	default:
		return condition{}, fmt.Errorf("alerts: condition %q: unknown operator %q", expr, c.op)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("alerts: condition %q: threshold: %w", expr, err)
	}
	c.threshold = v
	return c, nil
}

// eval reports whether the condition holds for values and the value it was
// tested against. A field absent from values (a null score) never fires.
func (c condition) eval(values map[string]float64) (bool, float64) {
	v, ok := values[c.field]
	if !ok {
		return false, 0
	}
	return compareFloat(v, c.op, c.threshold), v
}

func (c condition) String() string {
	return c.field + " " + c.op + " " + strconv.FormatFloat(c.threshold, 'f', -1, 64)
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
