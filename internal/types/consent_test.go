package types

import "testing"

func TestParseConsentType(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"NECESSARY", true},
		{"FUNCTIONAL", true},
		{"ANALYTICS", true},
		{"MARKETING", true},
		{"functional", false},
		{"", false},
	}

	for _, tt := range tests {
		_, ok := ParseConsentType(tt.input)
		if ok != tt.valid {
			t.Errorf("ParseConsentType(%q) valid = %v, want %v", tt.input, ok, tt.valid)
		}
	}
}

func TestConsentTypeRequiresRecord(t *testing.T) {
	tests := []struct {
		c    ConsentType
		want bool
	}{
		{ConsentNecessary, false},
		{ConsentFunctional, true},
		{ConsentAnalytics, true},
		{ConsentMarketing, true},
	}

	for _, tt := range tests {
		if got := tt.c.RequiresRecord(); got != tt.want {
			t.Errorf("%s.RequiresRecord() = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestParseDataCategory(t *testing.T) {
	if _, ok := ParseDataCategory("conversation_data"); !ok {
		t.Error("expected conversation_data to parse")
	}
	if _, ok := ParseDataCategory("biometric"); ok {
		t.Error("expected unknown category to be rejected")
	}
}
