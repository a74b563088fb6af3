package enhance

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseScore(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"85", 85, false},
		{"Score: 42 out of 100", 42, false},
		{"I'd rate this 100.", 100, false},
		{"9000", 100, false},
		{"no number here", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := parseScore(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseScore(%q): expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseScore(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseScore(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPermanentErrorDetection(t *testing.T) {
	base := errors.New("invalid api key")

	if IsPermanent(base) {
		t.Error("plain error should not be permanent")
	}
	if !IsPermanent(Permanent(base)) {
		t.Error("wrapped error should be permanent")
	}
	if !IsPermanent(fmt.Errorf("provider call: %w", Permanent(base))) {
		t.Error("permanence should survive further wrapping")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestSplitTerms(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"machine learning, deep learning, neural networks", []string{"machine learning", "deep learning", "neural networks"}},
		{"- llm\n- automation", []string{"llm", "automation"}},
		{`"robotics", "computer vision"`, []string{"robotics", "computer vision"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitTerms(c.in)
		if len(got) != len(c.want) {
			t.Errorf("splitTerms(%q) = %v, want %v", c.in, got, c.want)
			continue
		}
		for i := range c.want {
			if got[i] != c.want[i] {
				t.Errorf("splitTerms(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}
