package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		cc   string
		want string
	}{
		{name: "already e164", raw: "+905551111111", cc: "90", want: "+905551111111"},
		{name: "spaces and dashes", raw: " +90 555-111 11 11 ", cc: "90", want: "+905551111111"},
		{name: "double zero prefix", raw: "00905551111111", cc: "90", want: "+905551111111"},
		{name: "national trunk zero", raw: "05551111111", cc: "90", want: "+905551111111"},
		{name: "country code without plus", raw: "905551111111", cc: "90", want: "+905551111111"},
		{name: "no country code configured", raw: "05551111111", cc: "", want: "05551111111"},
		{name: "short code kept", raw: "12345", cc: "90", want: "12345"},
		{name: "alphanumeric sender", raw: " BANKA ", cc: "90", want: "BANKA"},
		{name: "alphanumeric with digits", raw: "A101", cc: "90", want: "A101"},
		{name: "brand with year", raw: " BIM2024 ", cc: "90", want: "BIM2024"},
		{name: "non latin letters", raw: "Банк24", cc: "90", want: "Банк24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw, tt.cc))
		})
	}
}

func TestNewIDSortsInGenerationOrder(t *testing.T) {
	a := NewID(testTime)
	b := NewID(testTime)
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}

var testTime = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
