package screening

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	screenerrors "github.com/spigell/screener/internal/errors"
)

func TestEmbedJobIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.addJob(&JobPosting{ID: 1, Description: "Go services"})
	h.provider.vectors["Go services"] = []float32{0.6, 0.8}

	computed, err := h.orch.EmbedJob(context.Background(), 1, false)
	require.NoError(t, err)
	assert.True(t, computed)

	h.provider.vectors["Go services"] = []float32{1, 0}

	computed, err = h.orch.EmbedJob(context.Background(), 1, false)
	require.NoError(t, err)
	assert.False(t, computed)

	job, err := h.store.GetJob(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, job.DescriptionEmbedding)
	assert.Equal(t, 1, h.provider.callCount("Go services"))

	computed, err = h.orch.EmbedJob(context.Background(), 1, true)
	require.NoError(t, err)
	assert.True(t, computed)

	job, err = h.store.GetJob(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, job.DescriptionEmbedding)
}

func TestEmbedApplicationRecomputesWrongDimensions(t *testing.T) {
	h := newHarness(t)
	h.store.addApp(&Application{ID: 5, JobID: 1, ResumeText: "Go developer", ProfileEmbedding: []float32{1, 2, 3}})

	computed, err := h.orch.EmbedApplication(context.Background(), 5, false)
	require.NoError(t, err)
	assert.True(t, computed)
	assert.Equal(t, []float32{1, 0}, h.store.app(5).ProfileEmbedding)

	computed, err = h.orch.EmbedApplication(context.Background(), 5, false)
	require.NoError(t, err)
	assert.False(t, computed)
	assert.Equal(t, 1, h.store.appEmbeds)
}

func TestHandleEmbedTask(t *testing.T) {
	h := newHarness(t)
	h.store.addJob(&JobPosting{ID: 1, Description: "Go services"})

	require.NoError(t, h.orch.HandleEmbedTask(context.Background(), EmbedTask{Kind: EmbedKindJob, ID: 1}))
	assert.Equal(t, 1, h.store.jobEmbeds)

	require.NoError(t, h.orch.HandleEmbedTask(context.Background(), EmbedTask{Kind: EmbedKindApplication, ID: 404}))

	err := h.orch.HandleEmbedTask(context.Background(), EmbedTask{Kind: "resume", ID: 1})
	assert.True(t, screenerrors.Is(err, screenerrors.ErrTypeInvalidInput))

	h.provider.fail["Go services"] = screenerrors.Unavailable("down", nil)
	err = h.orch.HandleEmbedTask(context.Background(), EmbedTask{Kind: EmbedKindJob, ID: 1, Force: true})
	assert.True(t, screenerrors.IsRetriable(err))
}

func TestParseEmbedKind(t *testing.T) {
	k, err := ParseEmbedKind("application")
	require.NoError(t, err)
	assert.Equal(t, EmbedKindApplication, k)

	_, err = ParseEmbedKind("resume")
	assert.Error(t, err)
}
