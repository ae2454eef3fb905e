package model

import "testing"

func TestParseUint256(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "0"},
		{in: "1000", want: "1000"},
		{in: " 42 ", want: "42"},
		{in: "0x10", want: "16"},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639936", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseUint256(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("parse %q: got %s want %s", tc.in, got.Dec(), tc.want)
		}
	}
}
