package silence

import (
	"testing"
	"time"
)

func TestParseHushDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		arg        string
		want       time.Duration
		indefinite bool
		wantErr    bool
	}{
		{name: "minutes", arg: "10", want: 10 * time.Minute},
		{name: "minutes with suffix", arg: "5m", want: 5 * time.Minute},
		{name: "max", arg: "15", want: 15 * time.Minute},
		{name: "forever", arg: "forever", indefinite: true},
		{name: "forever mixed case", arg: "Forever", indefinite: true},
		{name: "padded", arg: "  3 ", want: 3 * time.Minute},
		{name: "over cap", arg: "16", wantErr: true},
		{name: "zero", arg: "0", wantErr: true},
		{name: "negative", arg: "-5", wantErr: true},
		{name: "garbage", arg: "soon", wantErr: true},
		{name: "empty", arg: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, indef, err := ParseHushDuration(tc.arg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseHushDuration(%q): expected error, got d=%v indef=%v", tc.arg, d, indef)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHushDuration(%q): %v", tc.arg, err)
			}
			if d != tc.want || indef != tc.indefinite {
				t.Fatalf("ParseHushDuration(%q) = (%v, %v), want (%v, %v)", tc.arg, d, indef, tc.want, tc.indefinite)
			}
		})
	}
}
