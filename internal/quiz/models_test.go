package quiz

import (
	"reflect"
	"testing"
)

func TestParseLayout(t *testing.T) {
	cases := map[string][][]int{
		"1,0,5,0":   {{1}, {5}},
		"1,2,0,3":   {{1, 2}, {3}},
		" 4 , x,0 ": {{4}},
		"":          nil,
	}
	for in, want := range cases {
		if got := ParseLayout(in); !reflect.DeepEqual(got, want) {
			t.Errorf("ParseLayout(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPagesForSlots(t *testing.T) {
	layout := ParseLayout("1,2,0,3,0,4,0")
	got := PagesForSlots(layout, map[int]SlotAnswers{2: {}, 4: {}})
	if !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("got %v", got)
	}
}

func TestIsFinished(t *testing.T) {
	if IsFinished(StateInProgress) {
		t.Fatal("in-progress attempt reported finished")
	}
	if !IsFinished(StateFinished) || !IsFinished(StateAbandoned) {
		t.Fatal("finished/abandoned not reported finished")
	}
}
