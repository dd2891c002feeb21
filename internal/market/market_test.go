package market

import (
	"errors"
	"testing"
	"time"
)

func TestParseTicker_Valid(t *testing.T) {
	tk, err := ParseTicker("KXHIGHNY-25JUN10-T85")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Series != "KXHIGHNY" {
		t.Errorf("expected series=KXHIGHNY, got %s", tk.Series)
	}
	if tk.Event != "25JUN10" {
		t.Errorf("expected event=25JUN10, got %s", tk.Event)
	}
	if tk.Outcome != "T85" {
		t.Errorf("expected outcome=T85, got %s", tk.Outcome)
	}
	expected := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	if tk.EventDate == nil || !tk.EventDate.Equal(expected) {
		t.Errorf("expected event date %v, got %v", expected, tk.EventDate)
	}
}

func TestParseTicker_ShortForms(t *testing.T) {
	for _, ticker := range []string{"KXFED", "KXPRES-24", "INXD-23DEC29-B4700.5"} {
		if _, err := ParseTicker(ticker); err != nil {
			t.Errorf("ParseTicker(%q): unexpected error: %v", ticker, err)
		}
	}

	tk, err := ParseTicker("KXPRES-24")
	if err != nil {
		t.Fatal(err)
	}
	if tk.EventDate != nil {
		t.Errorf("expected no event date, got %v", tk.EventDate)
	}
}

func TestParseTicker_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"kxhighny-25jun10-t85", // lowercase
		"-25JUN10",
		"KX--T85",
		"KXA-B-C-D", // too many segments
		"1KX-25JUN10",
		"KX HIGH",
		"KX" + string(make([]byte, 70)),
	}
	for _, ticker := range tests {
		_, err := ParseTicker(ticker)
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", ticker, err)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Who will win the 2028 presidential election?", CategoryPolitics},
		{"Will the Fed cut interest rates in June?", CategoryFinance},
		{"Lakers win the championship this season?", CategorySports},
		{"Best Picture Oscar award", CategoryEntertainment},
		{"Will Apple ship an AI startup acquisition?", CategoryTechnology},
		{"Highest temperature in NYC; rain expected?", CategoryWeather},
		{"Will the comet be visible?", CategoryOther},
		{"", CategoryOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.title); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.title, got, tt.want)
		}
	}
}

func TestClassify_NoSubstringFalsePositives(t *testing.T) {
	// "ai" must not match inside "rain" or "Taiwan".
	if got := Classify("Rain in Taiwan"); got != CategoryWeather {
		t.Errorf("expected weather, got %s", got)
	}
}

func TestClassify_TieGoesToEarlierCategory(t *testing.T) {
	// one politics hit, one finance hit
	if got := Classify("senate", "inflation"); got != CategoryPolitics {
		t.Errorf("expected politics, got %s", got)
	}
}

func TestNormalizeCategory(t *testing.T) {
	if c, err := NormalizeCategory("  Politics "); err != nil || c != CategoryPolitics {
		t.Errorf("got %q, %v", c, err)
	}
	if c, err := NormalizeCategory("government"); err != nil || c != "government" {
		t.Errorf("got %q, %v", c, err)
	}
	if c, err := NormalizeCategory(""); err != nil || c != "" {
		t.Errorf("got %q, %v", c, err)
	}
	if _, err := NormalizeCategory("crypto"); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("expected ErrInvalidCategory, got %v", err)
	}
}
