package dispatch

import (
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/prealert/internal/faults"
)

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Event
	}{
		{
			"headache",
			"HEADACHE | 1116 1ST ST:BOONE | 42.067439,-93.873498",
			Event{Nature: "HEADACHE", Address: "1116 1ST ST", City: "BOONE", Latitude: 42.067439, Longitude: -93.873498},
		},
		{
			"business clarifier",
			"BREATHING PROBS | 128 HANCOCK DR #APT 3; HANCOCK APARTMENTS:BOONE | 42.044940,-93.875624",
			Event{Nature: "BREATHING PROBS", Address: "128 HANCOCK DR #APT 3; HANCOCK APARTMENTS", City: "BOONE", Latitude: 42.04494, Longitude: -93.875624},
		},
		{
			"no whitespace",
			"FIRE-RESIDENCE|2004 BENTON ST:BOONE|42.076317,-93.874821",
			Event{Nature: "FIRE-RESIDENCE", Address: "2004 BENTON ST", City: "BOONE", Latitude: 42.076317, Longitude: -93.874821},
		},
		{
			"extra whitespace",
			"  MVC-PI  |   16TH ST & LINN ST :  BOONE  |  42.05 , -93.88 ",
			Event{Nature: "MVC-PI", Address: "16TH ST & LINN ST", City: "BOONE", Latitude: 42.05, Longitude: -93.88},
		},
		{
			// address keeps everything before the last ":"
			"colon in clarifier",
			"HEMORRHAGE | 915 W MAMIE EISENHOWER AVE; BAR: ADOBE LOUNGE:BOONE | 42.06,-93.88",
			Event{Nature: "HEMORRHAGE", Address: "915 W MAMIE EISENHOWER AVE; BAR: ADOBE LOUNGE", City: "BOONE", Latitude: 42.06, Longitude: -93.88},
		},
		{
			"pipe in clarifier",
			"BACK PAIN | 1400 22ND ST | UNIT 6:BOONE | 42.07,-93.87",
			Event{Nature: "BACK PAIN", Address: "1400 22ND ST | UNIT 6", City: "BOONE", Latitude: 42.07, Longitude: -93.87},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if *got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, *got, tt.want)
			}
		})
	}
}

func TestParse_Idempotent(t *testing.T) {
	t.Parallel()

	in := "HEADACHE | 1116 1ST ST:BOONE | 42.067439,-93.873498"
	a, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *a != *b {
		t.Errorf("second parse = %+v, want %+v", *b, *a)
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		wantField string
	}{
		{"unparseable", "UNPARSEABLE", "text"},
		{"empty", "", "text"},
		{"two segments", "HEADACHE | 1116 1ST ST:BOONE", "text"},
		{"missing colon", "HEADACHE | 1116 1ST ST BOONE | 42.06,-93.87", "location"},
		{"bad latitude", "HEADACHE | 1116 1ST ST:BOONE | abc,-93.87", "latitude"},
		{"bad longitude", "HEADACHE | 1116 1ST ST:BOONE | 42.06,xyz", "longitude"},
		{"nan latitude", "HEADACHE | 1116 1ST ST:BOONE | NaN,-93.87", "latitude"},
		{"inf longitude", "HEADACHE | 1116 1ST ST:BOONE | 42.06,Inf", "longitude"},
		{"single coordinate", "HEADACHE | 1116 1ST ST:BOONE | 42.06", "coordinates"},
		{"three coordinates", "HEADACHE | 1116 1ST ST:BOONE | 42.06,-93.87,1", "coordinates"},
		{"latitude out of range", "HEADACHE | 1116 1ST ST:BOONE | 91,-93.87", "latitude"},
		{"longitude out of range", "HEADACHE | 1116 1ST ST:BOONE | 42,-193.87", "longitude"},
		{"empty nature", " | 1116 1ST ST:BOONE | 42.06,-93.87", "nature"},
		{"empty address", "HEADACHE | :BOONE | 42.06,-93.87", "address"},
		{"empty city", "HEADACHE | 1116 1ST ST: | 42.06,-93.87", "city"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := Parse(tt.in)
			if err == nil {
				t.Fatalf("Parse(%q) = %+v, want error", tt.in, ev)
			}
			if ev != nil {
				t.Errorf("Parse(%q) returned partial event %+v", tt.in, ev)
			}
			var ve *faults.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error type = %T, want *faults.ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("field = %q, want %q", ve.Field, tt.wantField)
			}
			if faults.IsRetryable(err) {
				t.Error("validation error must not be retryable")
			}
		})
	}
}

func FuzzParse(f *testing.F) {
	seeds := []string{
		"HEADACHE | 1116 1ST ST:BOONE | 42.067439,-93.873498",
		"UNPARSEABLE",
		"||",
		"a|b:c|1,2",
		"a|b|c:d|1,2",
		strings.Repeat("|", 100),
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, in string) {
		ev, err := Parse(in)
		if err != nil {
			if ev != nil {
				t.Fatalf("Parse(%q) returned event with error", in)
			}
			var ve *faults.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Parse(%q) error type = %T, want *faults.ValidationError", in, err)
			}
			return
		}
		if ev.Nature == "" || ev.Address == "" || ev.City == "" {
			t.Fatalf("Parse(%q) = %+v with empty field", in, ev)
		}
	})
}
