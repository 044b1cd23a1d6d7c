package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolens/geolens/internal/domain/model"
	"github.com/geolens/geolens/internal/testutil"
)

func seedDiagnosis(t *testing.T, db *sql.DB, executionID string) {
	t.Helper()
	repo := NewDiagnosisRepo(db, DiagnosisRepoConfig{})
	_, err := repo.Create(context.Background(), testDiagnosis(executionID))
	require.NoError(t, err)
}

func testResult(executionID, provider string, questionIndex int) *model.ResultRecord {
	return &model.ResultRecord{
		ExecutionID:   executionID,
		QuestionIndex: questionIndex,
		Question:      "best crm tool?",
		Brand:         "Acme",
		Provider:      provider,
		Model:         "gpt-4o-mini",
		Content:       `{"rank": 1, "sentiment": 0.8}`,
		Signal: model.GEOSignal{
			BrandMentioned: true,
			Rank:           1,
			Sentiment:      0.8,
			CitedSources:   []model.CitedSource{{URL: "https://example.com", SiteName: "Example"}},
		},
		Status:      model.ResultStatusSuccess,
		ContentHash: model.ContentHash(executionID, questionIndex, provider, time.Now()),
	}
}

func TestResultRepo_InsertIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testutil.WithTestDB(t, func(db *sql.DB) {
		seedDiagnosis(t, db, "exec-1")
		repo := NewResultRepo(db)
		ctx := context.Background()

		rec := testResult("exec-1", "openai", 0)
		inserted, err := repo.InsertIdempotent(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted)

		// The replay must be swallowed without touching the stored row.
		replay := testResult("exec-1", "openai", 0)
		replay.ContentHash = rec.ContentHash
		replay.Content = "different content"
		inserted, err = repo.InsertIdempotent(ctx, replay)
		require.NoError(t, err)
		assert.False(t, inserted)

		results, err := repo.ListByExecution(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, `{"rank": 1, "sentiment": 0.8}`, results[0].Content)
		assert.True(t, results[0].Signal.BrandMentioned)
		assert.Equal(t, 1, results[0].Signal.Rank)
		require.Len(t, results[0].Signal.CitedSources, 1)
		assert.Equal(t, "https://example.com", results[0].Signal.CitedSources[0].URL)
	})
}

func TestResultRepo_ListOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testutil.WithTestDB(t, func(db *sql.DB) {
		seedDiagnosis(t, db, "exec-1")
		repo := NewResultRepo(db)
		ctx := context.Background()

		for _, rec := range []*model.ResultRecord{
			testResult("exec-1", "openai", 1),
			testResult("exec-1", "gemini", 0),
			testResult("exec-1", "openai", 0),
		} {
			_, err := repo.InsertIdempotent(ctx, rec)
			require.NoError(t, err)
		}

		results, err := repo.ListByExecution(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, 0, results[0].QuestionIndex)
		assert.Equal(t, "gemini", results[0].Provider)
		assert.Equal(t, 0, results[1].QuestionIndex)
		assert.Equal(t, "openai", results[1].Provider)
		assert.Equal(t, 1, results[2].QuestionIndex)
	})
}

func TestResultRepo_CountByExecution(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testutil.WithTestDB(t, func(db *sql.DB) {
		seedDiagnosis(t, db, "exec-1")
		repo := NewResultRepo(db)
		ctx := context.Background()

		ok := testResult("exec-1", "openai", 0)
		_, err := repo.InsertIdempotent(ctx, ok)
		require.NoError(t, err)

		failed := testResult("exec-1", "gemini", 0)
		failed.Status = model.ResultStatusFailed
		failed.Signal = model.DefaultSignal()
		failed.ErrorMessage = testutil.StringPtr("rate limited")
		_, err = repo.InsertIdempotent(ctx, failed)
		require.NoError(t, err)

		total, success, err := repo.CountByExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, 1, success)
	})
}
