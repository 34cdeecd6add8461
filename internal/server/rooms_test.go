package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomName(t *testing.T) {
	tcases := []struct {
		name string
		a, b int
		want string
	}{
		{name: "ascending", a: 1, b: 2, want: "chat_1_2"},
		{name: "descending", a: 2, b: 1, want: "chat_1_2"},
		{name: "self", a: 7, b: 7, want: "chat_7_7"},
		{name: "multi digit", a: 12, b: 3, want: "chat_3_12"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RoomName(tc.a, tc.b))
			assert.Equal(t, RoomName(tc.a, tc.b), RoomName(tc.b, tc.a), "expected room name to be commutative")
		})
	}
}

func TestRoomNameIsInjective(t *testing.T) {
	seen := make(map[string][2]int)
	for a := 1; a <= 40; a++ {
		for b := a; b <= 40; b++ {
			name := RoomName(a, b)
			if prev, ok := seen[name]; ok {
				t.Fatalf("room %q produced by %v and %v", name, prev, [2]int{a, b})
			}
			seen[name] = [2]int{a, b}
		}
	}

	for id := 1; id <= 40; id++ {
		_, ok := seen[PersonalChannel(id)]
		assert.Falsef(t, ok, "expected personal channel of %d to differ from every room", id)
	}
}

func TestPersonalChannel(t *testing.T) {
	assert.Equal(t, "user_5", PersonalChannel(5))

	seen := make(map[string]struct{})
	for id := 1; id <= 100; id++ {
		ch := PersonalChannel(id)
		_, dup := seen[ch]
		assert.False(t, dup, fmt.Sprintf("duplicate personal channel %q", ch))
		seen[ch] = struct{}{}
	}
}
