package types

import "testing"

func TestBoxFRound(t *testing.T) {
	got := BoxF{Left: 0.5, Top: 1.5, Right: 2.5, Bottom: -0.5}.Round()
	want := Box{Left: 0, Top: 2, Right: 2, Bottom: 0}
	if got != want {
		t.Errorf("Round() = %+v, want %+v", got, want)
	}
}

func TestBoxClamp(t *testing.T) {
	tests := []struct {
		name string
		box  Box
		want Box
	}{
		{"Inside", Box{1, 2, 3, 4}, Box{1, 2, 3, 4}},
		{"Negative", Box{-4, -1, 10, 10}, Box{0, 0, 10, 10}},
		{"Overflow", Box{5, 5, 200, 100}, Box{5, 5, 99, 49}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Clamp(100, 50); got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
