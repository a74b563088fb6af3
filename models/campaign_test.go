package models

import (
	"testing"
	"time"
)

func TestIsValidFrequency(t *testing.T) {
	valid := []string{"15min", "hourly", "daily", "weekly", "DAILY", "Hourly"}
	for _, v := range valid {
		if _, ok := IsValidFrequency(v); !ok {
			t.Errorf("expected %q to be a valid frequency", v)
		}
	}

	invalid := []string{"", "monthly", "5min", "every day"}
	for _, v := range invalid {
		if f, ok := IsValidFrequency(v); ok {
			t.Errorf("expected %q to be invalid, got %q", v, f)
		}
	}
}

func TestFrequencyInterval(t *testing.T) {
	cases := []struct {
		freq Frequency
		want time.Duration
	}{
		{FrequencyFifteenMin, 15 * time.Minute},
		{FrequencyHourly, time.Hour},
		{FrequencyDaily, 24 * time.Hour},
		{FrequencyWeekly, 7 * 24 * time.Hour},
		{Frequency("garbage"), 24 * time.Hour},
	}
	for _, c := range cases {
		if got := c.freq.Interval(); got != c.want {
			t.Errorf("Interval(%q) = %s, want %s", c.freq, got, c.want)
		}
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("never run is always due", func(t *testing.T) {
		c := Campaign{Status: CampaignStatusActive, Frequency: FrequencyWeekly}
		if !c.IsDue(now) {
			t.Fatal("campaign with nil LastRunAt should be due")
		}
	})

	t.Run("inactive never due", func(t *testing.T) {
		for _, status := range []CampaignStatus{CampaignStatusPaused, CampaignStatusDeleted} {
			c := Campaign{Status: status, Frequency: FrequencyHourly}
			if c.IsDue(now) {
				t.Errorf("%s campaign should not be due", status)
			}
		}
	})

	t.Run("due exactly at interval boundary", func(t *testing.T) {
		lastRun := now.Add(-time.Hour)
		c := Campaign{Status: CampaignStatusActive, Frequency: FrequencyHourly, LastRunAt: &lastRun}
		if !c.IsDue(now) {
			t.Fatal("campaign should be due when exactly one interval has elapsed")
		}
	})

	t.Run("not due before interval elapses", func(t *testing.T) {
		lastRun := now.Add(-59 * time.Minute)
		c := Campaign{Status: CampaignStatusActive, Frequency: FrequencyHourly, LastRunAt: &lastRun}
		if c.IsDue(now) {
			t.Fatal("campaign should not be due 59 minutes after an hourly run")
		}
	})
}

func TestNormalizedKeywords(t *testing.T) {
	c := Campaign{Keywords: []string{" AI ", "ai", "Machine Learning", "", "machine learning", "golang"}}

	got := c.NormalizedKeywords()
	want := []string{"AI", "Machine Learning", "golang"}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
