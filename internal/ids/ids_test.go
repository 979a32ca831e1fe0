package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		require.Len(t, id, 26)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestAtCarriesTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, ok := Time(At(at))
	require.True(t, ok)
	assert.True(t, at.Equal(got))

	assert.Less(t, At(at), At(at.Add(time.Second)))
}

func TestTimeRejectsForeignIDs(t *testing.T) {
	_, ok := Time("not-a-ulid")
	assert.False(t, ok)
}
