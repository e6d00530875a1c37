package main

import (
	"testing"

	"comisioane/internal/core"
)

func TestResolvePeriods(t *testing.T) {
	current := core.MustParsePeriod("Octombrie 2025")
	tests := []struct {
		name    string
		opts    options
		want    []string
		wantErr bool
	}{
		{name: "default", want: []string{"Octombrie 2025"}},
		{name: "list", opts: options{periods: "Septembrie 2025, Octombrie 2025,Septembrie 2025"}, want: []string{"Septembrie 2025", "Octombrie 2025"}},
		{name: "range across year", opts: options{from: "Decembrie 2024", to: "Februarie 2025"}, want: []string{"Decembrie 2024", "Ianuarie 2025", "Februarie 2025"}},
		{name: "open range", opts: options{from: "August 2025"}, want: []string{"August 2025", "Septembrie 2025", "Octombrie 2025"}},
		{name: "inverted", opts: options{from: "Octombrie 2025", to: "Iulie 2025"}, wantErr: true},
		{name: "to alone", opts: options{to: "Iulie 2025"}, wantErr: true},
		{name: "both forms", opts: options{periods: "Iulie 2025", from: "Iulie 2025"}, wantErr: true},
		{name: "bad key", opts: options{periods: "2025-10"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePeriods(tt.opts, current)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].Key() != tt.want[i] {
					t.Errorf("period %d = %s, want %s", i, got[i].Key(), tt.want[i])
				}
			}
		})
	}
}
