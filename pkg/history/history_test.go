package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindnexus/internal/models"
)

func msg(role, content string) models.ChatMessage {
	return models.ChatMessage{
		ID:        content,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestLoadEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	messages, err := store.Load("alice")
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
}

func TestAppendPreservesOrder(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	var want []models.ChatMessage
	for i := 0; i < 10; i++ {
		role := models.MessageRoleUser
		if i%2 == 1 {
			role = models.MessageRoleAssistant
		}
		m := msg(role, fmt.Sprintf("turn %d", i))
		want = append(want, m)
		require.NoError(t, store.Append("alice", m))
	}

	got, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHistoriesAreIsolated(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Append("alice", msg(models.MessageRoleUser, "from alice")))
	require.NoError(t, store.Append("bob", msg(models.MessageRoleUser, "from bob")))

	alice, err := store.Load("alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, "from alice", alice[0].Content)

	bob, err := store.Load("bob")
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, "from bob", bob[0].Content)
}

func TestSurvivesReopen(t *testing.T) {
	root := t.TempDir()

	store, err := NewStore(root)
	require.NoError(t, err)
	require.NoError(t, store.Append("alice", msg(models.MessageRoleUser, "hello")))

	reopened, err := NewStore(root)
	require.NoError(t, err)
	messages, err := reopened.Load("alice")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestConcurrentAppends(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Append("alice", msg(models.MessageRoleUser, fmt.Sprintf("m%d", i))))
		}(i)
	}
	wg.Wait()

	messages, err := store.Load("alice")
	require.NoError(t, err)
	assert.Len(t, messages, n)
}

func TestUsernameSanitization(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)

	// A hostile username must not produce a file outside the root.
	require.NoError(t, store.Append("../../etc/passwd", msg(models.MessageRoleUser, "hi")))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsDir())
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))

	messages, err := store.Load("../../etc/passwd")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}
