package dataset

import (
	"reflect"
	"testing"
)

func TestDistribution(t *testing.T) {
	got := Distribution(map[string]int{"Grape_spot": 1, "Apple_rust": 3})
	want := []ClassCount{
		{Class: "Apple_rust", Count: 3, Percent: 75},
		{Class: "Grape_spot", Count: 1, Percent: 25},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if len(Distribution(nil)) != 0 {
		t.Fatalf("expected empty distribution")
	}
}

func TestBalanceTargets(t *testing.T) {
	counts := map[string]int{"a": 10, "b": 4, "c": 0}
	if got := BalanceTargets(counts, 0); !reflect.DeepEqual(got, map[string]int{"b": 10, "c": 10}) {
		t.Fatalf("unexpected plan %v", got)
	}
	if got := BalanceTargets(counts, 6); !reflect.DeepEqual(got, map[string]int{"b": 6, "c": 6}) {
		t.Fatalf("unexpected plan with explicit target %v", got)
	}
}
