package nvsmi

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one parsed row. Values align with the schema's field order;
// a nil entry means the device does not report that field.
type Record struct {
	Values []*float64
}

// ParseError describes a row that could not be converted against the schema.
type ParseError struct {
	Reason string
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse row: %s", e.Reason)
}

// RowParser converts raw CSV rows into typed records for a fixed schema.
type RowParser struct {
	schema Schema
}

// NewRowParser builds a parser bound to the supplied schema.
func NewRowParser(schema Schema) *RowParser {
	return &RowParser{schema: schema}
}

// Parse converts one CSV data row. Rows with a wrong column count or an
// unparsable numeric field are rejected. Tokens the utility prints for
// metrics the device cannot provide ("N/A" and bracketed markers) become
// nil values without failing the row.
func (p *RowParser) Parse(line string) (Record, error) {
	tokens := strings.Split(line, ",")
	if len(tokens) != len(p.schema.fields) {
		return Record{}, &ParseError{
			Reason: fmt.Sprintf("expected %d fields, got %d", len(p.schema.fields), len(tokens)),
			Line:   line,
		}
	}

	values := make([]*float64, len(tokens))
	for i, field := range p.schema.fields {
		token := strings.TrimSpace(tokens[i])
		if isUnavailable(token) {
			continue
		}

		switch field.Kind {
		case KindPState:
			values[i] = parsePState(token)
		case KindOnOff:
			values[i] = parseOnOff(token)
		case KindThrottle:
			values[i] = parseThrottle(token)
		default:
			value, err := parseNumeric(token)
			if err != nil {
				return Record{}, &ParseError{
					Reason: fmt.Sprintf("field %s: %v", field.Name, err),
					Line:   line,
				}
			}
			values[i] = value
		}
	}

	return Record{Values: values}, nil
}

func isUnavailable(token string) bool {
	if strings.EqualFold(token, "N/A") {
		return true
	}
	return strings.HasPrefix(token, "[") && strings.HasSuffix(token, "]")
}

func parseNumeric(token string) (*float64, error) {
	// nounits output is a bare number, but plain csv mode appends a unit
	// suffix ("120.50 W"); only the leading part is the value.
	head, _, _ := strings.Cut(token, " ")
	value, err := strconv.ParseFloat(head, 64)
	if err != nil {
		return nil, fmt.Errorf("parse float %q: %w", token, err)
	}
	return float64Ptr(value), nil
}

func parsePState(token string) *float64 {
	if len(token) < 2 || (token[0] != 'P' && token[0] != 'p') {
		return nil
	}
	level, err := strconv.Atoi(token[1:])
	if err != nil {
		return nil
	}
	return float64Ptr(float64(level))
}

func parseOnOff(token string) *float64 {
	switch {
	case strings.EqualFold(token, "Enabled"):
		return float64Ptr(1)
	case strings.EqualFold(token, "Disabled"):
		return float64Ptr(0)
	default:
		return nil
	}
}

// parseThrottle maps throttle reason tokens to 0/1. Individual reasons are
// reported as "Active"/"Not Active"; the aggregate supported/active fields
// are reported as a hex bitmask.
func parseThrottle(token string) *float64 {
	switch {
	case strings.EqualFold(token, "Active"), strings.EqualFold(token, "Supported"):
		return float64Ptr(1)
	case strings.HasPrefix(token, "Not "):
		return float64Ptr(0)
	}

	if strings.HasPrefix(token, "0x") || strings.HasPrefix(token, "0X") {
		mask, err := strconv.ParseUint(token, 0, 64)
		if err != nil {
			return nil
		}
		if mask != 0 {
			return float64Ptr(1)
		}
		return float64Ptr(0)
	}

	return nil
}

func float64Ptr(value float64) *float64 {
	v := value
	return &v
}
