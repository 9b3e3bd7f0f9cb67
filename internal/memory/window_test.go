package memory

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindow_New(t *testing.T) {
	w := New(3)
	require.Equal(t, 0, w.Len())
	require.Equal(t, 3, w.Cap())
	require.Equal(t, "", w.Render())
}

func TestWindow_AppendBelowCapacity(t *testing.T) {
	w := New(3)
	w.Append("Hello")
	require.Equal(t, "Hello", w.Render())

	w.Append("World")
	require.Equal(t, 2, w.Len())
	require.Equal(t, "Hello\nWorld", w.Render())
}

func TestWindow_Slides(t *testing.T) {
	w := New(3)
	w.Append("First")
	w.Append("Second")
	w.Append("Third")
	require.Equal(t, "First\nSecond\nThird", w.Render())

	w.Append("Fourth")
	require.Equal(t, "Second\nThird\nFourth", w.Render())
	require.Equal(t, 3, w.Len())
}

func TestWindow_CapacityTwoEvictsOldest(t *testing.T) {
	w := New(2)
	w.Append("A")
	w.Append("B")
	w.Append("C")
	require.Equal(t, []string{"B", "C"}, w.Entries())
	require.Equal(t, "B\nC", w.Render())
}

func TestWindow_ZeroCapacity(t *testing.T) {
	w := New(0)
	w.Append("dropped")
	w.Append("also dropped")
	require.Equal(t, 0, w.Len())
	require.Equal(t, "", w.Render())
	require.Empty(t, w.Entries())
}

func TestWindow_NegativeCapacityClamped(t *testing.T) {
	w := New(-4)
	w.Append("x")
	require.Equal(t, 0, w.Cap())
	require.Equal(t, "", w.Render())
}

func TestWindow_KeepsLastMinNAppends(t *testing.T) {
	for capacity := 0; capacity <= 6; capacity++ {
		for appends := 0; appends <= 15; appends++ {
			w := New(capacity)
			all := make([]string, 0, appends)
			for i := 0; i < appends; i++ {
				e := fmt.Sprintf("e%d", i)
				all = append(all, e)
				w.Append(e)
				require.LessOrEqual(t, w.Len(), capacity)
			}

			keep := appends
			if capacity < keep {
				keep = capacity
			}
			want := all[len(all)-keep:]
			require.Equal(t, want, w.Entries(), "capacity=%d appends=%d", capacity, appends)
			require.Equal(t, strings.Join(want, Separator), w.Render())
		}
	}
}

func TestWindow_RenderDoesNotMutate(t *testing.T) {
	w := New(2)
	w.Append("a")
	first := w.Render()
	second := w.Render()
	require.Equal(t, first, second)
	require.Equal(t, 1, w.Len())
}
