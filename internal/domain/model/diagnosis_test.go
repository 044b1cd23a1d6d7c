package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosisState_Terminal(t *testing.T) {
	terminal := []DiagnosisState{StateCompleted, StatePartialSuccess, StateFailed, StateTimeout}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "state %s should be terminal", s)
	}

	nonTerminal := []DiagnosisState{StateInitializing, StateAIFetching, StateAnalyzing}
	for _, s := range nonTerminal {
		assert.False(t, s.Terminal(), "state %s should not be terminal", s)
	}
}

func TestCreateDiagnosisRequest_Validate(t *testing.T) {
	valid := func() *CreateDiagnosisRequest {
		return &CreateDiagnosisRequest{
			MainBrand:        "Acme",
			CompetitorBrands: []string{"Globex"},
			Questions:        []string{"best crm tools?"},
			Providers:        []string{"openai"},
		}
	}

	t.Run("valid request", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("missing main brand", func(t *testing.T) {
		req := valid()
		req.MainBrand = ""
		assert.Error(t, req.Validate())
	})

	t.Run("no questions", func(t *testing.T) {
		req := valid()
		req.Questions = nil
		assert.Error(t, req.Validate())
	})

	t.Run("empty question", func(t *testing.T) {
		req := valid()
		req.Questions = []string{""}
		assert.Error(t, req.Validate())
	})

	t.Run("no providers", func(t *testing.T) {
		req := valid()
		req.Providers = nil
		assert.Error(t, req.Validate())
	})
}

func TestCreateDiagnosisRequest_ExpectedTotal(t *testing.T) {
	req := &CreateDiagnosisRequest{
		MainBrand:        "Acme",
		CompetitorBrands: []string{"Globex", "Initech"},
		Questions:        []string{"q1", "q2"},
		Providers:        []string{"openai", "deepseek"},
	}
	// 2 questions x 3 brands x 2 providers
	assert.Equal(t, 12, req.ExpectedTotal())
}

func TestDiagnosisJob_Brands(t *testing.T) {
	job := &DiagnosisJob{MainBrand: "Acme", CompetitorBrands: []string{"Globex"}}
	assert.Equal(t, []string{"Acme", "Globex"}, job.Brands())
}

func TestContentHash(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("deterministic", func(t *testing.T) {
		a := ContentHash("exec-1", 0, "openai", ts)
		b := ContentHash("exec-1", 0, "openai", ts)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("varies by cell identity", func(t *testing.T) {
		base := ContentHash("exec-1", 0, "openai", ts)
		assert.NotEqual(t, base, ContentHash("exec-1", 1, "openai", ts))
		assert.NotEqual(t, base, ContentHash("exec-1", 0, "deepseek", ts))
		assert.NotEqual(t, base, ContentHash("exec-2", 0, "openai", ts))
		assert.NotEqual(t, base, ContentHash("exec-1", 0, "openai", ts.Add(time.Millisecond)))
	})
}

func TestDeadLetterStatus(t *testing.T) {
	assert.True(t, DeadLetterPending.Open())
	assert.True(t, DeadLetterProcessing.Open())
	assert.False(t, DeadLetterResolved.Open())
	assert.False(t, DeadLetterIgnored.Open())
	assert.False(t, DeadLetterStatus("bogus").Valid())
}

func TestAddDeadLetterRequest_Validate(t *testing.T) {
	req := &AddDeadLetterRequest{
		ExecutionID:  "exec-1",
		TaskType:     "ai_fetch",
		ErrorType:    "timeout",
		ErrorMessage: "deadline exceeded",
		Priority:     50,
	}
	require.NoError(t, req.Validate())

	req.Priority = 101
	assert.Error(t, req.Validate())
}
