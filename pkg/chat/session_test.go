package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindnexus/internal/models"
	"mindnexus/internal/types"
	"mindnexus/pkg/store"
	"mindnexus/pkg/voice"
)

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, e.err
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}

type fakeAnswerer struct {
	answer string
	err    error

	gotQuestion string
	gotChunks   []models.ScoredChunk
}

func (a *fakeAnswerer) Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (string, error) {
	a.gotQuestion = question
	a.gotChunks = chunks
	return a.answer, a.err
}

type fakeCollection struct {
	results   []models.ScoredChunk
	searchErr error
	gotK      int
}

func (c *fakeCollection) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	return nil
}

func (c *fakeCollection) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	c.gotK = k
	return c.results, c.searchErr
}

type fakeLibrary struct {
	collections map[string]*fakeCollection
}

func (l *fakeLibrary) Create(ctx context.Context, name string, dimension int) (types.Collection, error) {
	c := &fakeCollection{}
	l.collections[name] = c
	return c, nil
}

func (l *fakeLibrary) Open(ctx context.Context, name string) (types.Collection, error) {
	c, ok := l.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return c, nil
}

func (l *fakeLibrary) List(ctx context.Context) ([]models.LibraryInfo, error) {
	var infos []models.LibraryInfo
	for name := range l.collections {
		infos = append(infos, models.LibraryInfo{Name: name})
	}
	return infos, nil
}

func (l *fakeLibrary) Delete(ctx context.Context, name string) error {
	if _, ok := l.collections[name]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	delete(l.collections, name)
	return nil
}

func (l *fakeLibrary) Close() error { return nil }

type memHistory struct {
	logs map[string][]models.ChatMessage
}

func newMemHistory() *memHistory {
	return &memHistory{logs: make(map[string][]models.ChatMessage)}
}

func (h *memHistory) Load(username string) ([]models.ChatMessage, error) {
	out := make([]models.ChatMessage, len(h.logs[username]))
	copy(out, h.logs[username])
	return out, nil
}

func (h *memHistory) Append(username string, msg models.ChatMessage) error {
	h.logs[username] = append(h.logs[username], msg)
	return nil
}

type fixture struct {
	engine   *Engine
	answerer *fakeAnswerer
	library  *fakeLibrary
	history  *memHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	library := &fakeLibrary{collections: map[string]*fakeCollection{
		"physics": {results: []models.ScoredChunk{
			{Chunk: models.Chunk{Source: "doc.pdf", Ordinal: 0, Text: "gravity pulls"}, Score: 0.9},
			{Chunk: models.Chunk{Source: "doc.pdf", Ordinal: 4, Text: "mass curves space"}, Score: 0.7},
		}},
	}}
	answerer := &fakeAnswerer{answer: "gravity is attractive"}
	history := newMemHistory()
	return &fixture{
		engine:   NewEngine(&fakeEmbedder{}, answerer, library, history, 3),
		answerer: answerer,
		library:  library,
		history:  history,
	}
}

func student() models.User {
	return models.User{Username: "student", Role: models.RoleUser}
}

func TestAskAppendsBothTurns(t *testing.T) {
	f := newFixture(t)
	session, err := f.engine.NewSession(student(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, session.SelectLibrary(context.Background(), "physics"))

	answer, err := session.Ask(context.Background(), "what is gravity?")
	require.NoError(t, err)
	assert.Equal(t, models.MessageRoleAssistant, answer.Role)
	assert.Equal(t, "gravity is attractive", answer.Content)
	assert.NotEmpty(t, answer.ID)

	assert.Equal(t, "what is gravity?", f.answerer.gotQuestion)
	require.Len(t, f.answerer.gotChunks, 2)

	// Both turns are durable, in order, with distinct IDs.
	persisted, err := f.history.Load("student")
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, models.MessageRoleUser, persisted[0].Role)
	assert.Equal(t, "what is gravity?", persisted[0].Content)
	assert.Equal(t, models.MessageRoleAssistant, persisted[1].Role)
	assert.NotEqual(t, persisted[0].ID, persisted[1].ID)

	// The in-memory transcript matches what was persisted.
	assert.Equal(t, persisted, session.Messages())
}

func TestAskRequiresSelectedLibrary(t *testing.T) {
	f := newFixture(t)
	session, err := f.engine.NewSession(student(), nil, nil)
	require.NoError(t, err)

	_, err = session.Ask(context.Background(), "anyone there?")
	assert.ErrorIs(t, err, ErrNoLibrary)

	persisted, err := f.history.Load("student")
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestAskUpstreamFailureKeepsQuestion(t *testing.T) {
	f := newFixture(t)
	f.answerer.err = errors.New("ollama is down")

	session, err := f.engine.NewSession(student(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, session.SelectLibrary(context.Background(), "physics"))

	_, err = session.Ask(context.Background(), "what is gravity?")
	require.Error(t, err)

	// The question survives the failed answer.
	persisted, err := f.history.Load("student")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, models.MessageRoleUser, persisted[0].Role)
	assert.Equal(t, "what is gravity?", persisted[0].Content)
}

func TestAskSearchFailureIsRetrievalError(t *testing.T) {
	f := newFixture(t)
	f.library.collections["physics"].searchErr = errors.New("disk on fire")

	session, err := f.engine.NewSession(student(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, session.SelectLibrary(context.Background(), "physics"))

	_, err = session.Ask(context.Background(), "what is gravity?")
	var retrieval *RetrievalError
	require.ErrorAs(t, err, &retrieval)
	assert.Equal(t, "physics", retrieval.KB)
}

func TestAskUsesConfiguredTopK(t *testing.T) {
	f := newFixture(t)
	session, err := f.engine.NewSession(student(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, session.SelectLibrary(context.Background(), "physics"))

	_, err = session.Ask(context.Background(), "what is gravity?")
	require.NoError(t, err)
	assert.Equal(t, 3, f.library.collections["physics"].gotK)
}

func TestSelectLibraryMissing(t *testing.T) {
	f := newFixture(t)
	session, err := f.engine.NewSession(student(), nil, nil)
	require.NoError(t, err)

	err = session.SelectLibrary(context.Background(), "alchemy")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, session.Selected())
}

func TestVoiceSurfacesWithoutSpeaker(t *testing.T) {
	f := newFixture(t)
	session, err := f.engine.NewSession(student(), nil, nil)
	require.NoError(t, err)

	assert.False(t, session.CanSpeak())

	// All voice calls must be safe no-ops when nothing is wired.
	session.Speak("into the void")
	assert.False(t, session.IsSpeaking())
	session.StopSpeaking()

	_, err = session.Listen(context.Background(), 0)
	assert.ErrorIs(t, err, voice.ErrNoInputDevice)
}

func TestNewSessionLoadsHistory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.history.Append("student", models.ChatMessage{
		ID:      "m1",
		Role:    models.MessageRoleUser,
		Content: "earlier question",
	}))

	session, err := f.engine.NewSession(student(), nil, nil)
	require.NoError(t, err)

	messages := session.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "earlier question", messages[0].Content)
}
