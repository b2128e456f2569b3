package nvsmi

import (
	"errors"
	"strings"
	"testing"
)

// baseRow returns tokens for one well-formed row in schema order.
func baseRow() []string {
	return []string{
		"P8", "Enabled", "35.20", "35.10", "35.30", "450.00", "450.00", "100.00", "600.00",
		"45", "52", "1024", "24576", "23552", "210", "405",
		"0x0000000000000001", "0x0000000000000000", "Active", "Not Active", "Not Active",
		"Not Active", "Not Active", "Not Active", "Not Active", "Not Active",
	}
}

func joinRow(tokens []string) string {
	return strings.Join(tokens, ", ")
}

func assertValue(t *testing.T, rec Record, index int, want float64) {
	t.Helper()
	if rec.Values[index] == nil {
		t.Fatalf("value %d is nil, want %v", index, want)
	}
	if got := *rec.Values[index]; got != want {
		t.Fatalf("value %d is %v, want %v", index, got, want)
	}
}

func TestParseValidRow(t *testing.T) {
	t.Parallel()

	parser := NewRowParser(Default())
	rec, err := parser.Parse(joinRow(baseRow()))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if len(rec.Values) != 26 {
		t.Fatalf("expected 26 values, got %d", len(rec.Values))
	}

	assertValue(t, rec, 0, 8)      // pstate
	assertValue(t, rec, 1, 1)      // power_management
	assertValue(t, rec, 2, 35.2)   // power_draw
	assertValue(t, rec, 9, 45)     // temperature_gpu
	assertValue(t, rec, 12, 24576) // memory_total
	assertValue(t, rec, 15, 405)   // current_memory_clocks
	assertValue(t, rec, 16, 1)     // throttle_reasons_supported bitmask
	assertValue(t, rec, 17, 0)     // throttle_reasons_active bitmask
	assertValue(t, rec, 18, 1)     // throttle_reasons_gpu_idle
	assertValue(t, rec, 25, 0)     // throttle_reasons_sync_boost
}

func TestParseUnavailableTokens(t *testing.T) {
	t.Parallel()

	tokens := baseRow()
	tokens[3] = "N/A"             // power_draw_average
	tokens[10] = "[N/A]"          // temperature_memory
	tokens[16] = "[Not Supported]"

	parser := NewRowParser(Default())
	rec, err := parser.Parse(joinRow(tokens))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	for _, index := range []int{3, 10, 16} {
		if rec.Values[index] != nil {
			t.Fatalf("value %d should be nil, got %v", index, *rec.Values[index])
		}
	}
	assertValue(t, rec, 2, 35.2)
	assertValue(t, rec, 9, 45)
}

func TestParseStripsUnitSuffix(t *testing.T) {
	t.Parallel()

	tokens := baseRow()
	tokens[2] = "120.50 W"
	tokens[11] = "1024 MiB"

	rec, err := NewRowParser(Default()).Parse(joinRow(tokens))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	assertValue(t, rec, 2, 120.5)
	assertValue(t, rec, 11, 1024)
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	t.Parallel()

	_, err := NewRowParser(Default()).Parse("P0, Enabled, 35.20")
	if err == nil {
		t.Fatalf("expected error for short row")
	}

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if !strings.Contains(parseErr.Reason, "expected 26 fields") {
		t.Fatalf("unexpected reason %q", parseErr.Reason)
	}
	if parseErr.Line == "" {
		t.Fatalf("ParseError should carry the raw line")
	}
}

func TestParseRejectsBadNumeric(t *testing.T) {
	t.Parallel()

	tokens := baseRow()
	tokens[5] = "garbage"

	_, err := NewRowParser(Default()).Parse(joinRow(tokens))
	if err == nil {
		t.Fatalf("expected error for non-numeric power_limit")
	}

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if !strings.Contains(parseErr.Reason, "power_limit") {
		t.Fatalf("reason should name the field, got %q", parseErr.Reason)
	}
}

func TestParseEnumTokens(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		parse func(string) *float64
		token string
		want  *float64
	}{
		{"PStateZero", parsePState, "P0", float64Ptr(0)},
		{"PStateDoubleDigit", parsePState, "P15", float64Ptr(15)},
		{"PStateLowercase", parsePState, "p2", float64Ptr(2)},
		{"PStateUnknown", parsePState, "Q3", nil},
		{"PStateBare", parsePState, "P", nil},
		{"OnOffEnabled", parseOnOff, "Enabled", float64Ptr(1)},
		{"OnOffDisabled", parseOnOff, "Disabled", float64Ptr(0)},
		{"OnOffUnknown", parseOnOff, "Sometimes", nil},
		{"ThrottleActive", parseThrottle, "Active", float64Ptr(1)},
		{"ThrottleSupported", parseThrottle, "Supported", float64Ptr(1)},
		{"ThrottleNotActive", parseThrottle, "Not Active", float64Ptr(0)},
		{"ThrottleNotSupported", parseThrottle, "Not Supported", float64Ptr(0)},
		{"ThrottleMaskSet", parseThrottle, "0x000000000000008F", float64Ptr(1)},
		{"ThrottleMaskClear", parseThrottle, "0x0000000000000000", float64Ptr(0)},
		{"ThrottleMaskInvalid", parseThrottle, "0xZZ", nil},
		{"ThrottleUnknown", parseThrottle, "perhaps", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.parse(tc.token)
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("%q: got %v, want nil", tc.token, *got)
			case tc.want != nil && got == nil:
				t.Fatalf("%q: got nil, want %v", tc.token, *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Fatalf("%q: got %v, want %v", tc.token, *got, *tc.want)
			}
		})
	}
}
