package model

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateResolve_Once(t *testing.T) {
	t.Parallel()

	c := &Candidate{Address: "john@acme.io", Outcome: NotAttempted()}
	require.NoError(t, c.Resolve(Valid("250 ok")))

	err := c.Resolve(Invalid("550 no"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutcomeAlreadySet))
	assert.Equal(t, OutcomeValid, c.Outcome.Kind)
}

func TestCandidateResolve_RejectsNonTerminal(t *testing.T) {
	t.Parallel()

	c := &Candidate{Address: "john@acme.io"}
	assert.Error(t, c.Resolve(NotAttempted()))
	assert.False(t, c.Outcome.Attempted())
}

func TestOutcomeClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, CatchAll("250").Inconclusive())
	assert.Equal(t, ReasonCatchAll, CatchAll("250").Reason)
	assert.True(t, Inconclusive(ReasonUnreachable).Inconclusive())
	assert.False(t, Valid("").Inconclusive())
	assert.True(t, Invalid("").IsInvalid())
	assert.False(t, NotAttempted().Attempted())
	assert.Equal(t, "smtp_verified", Valid("").Method())
	assert.Equal(t, "unverified", NotAttempted().Method())
}

func TestVerificationLog_Concurrent(t *testing.T) {
	t.Parallel()

	var log VerificationLog
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.Addf("line %d", i)
		}(i)
	}
	wg.Wait()
	assert.Len(t, log.Lines(), 50)

	var nilLog *VerificationLog
	nilLog.Add("ignored")
	assert.Nil(t, nilLog.Lines())
}

func TestContactResult_SetBest(t *testing.T) {
	t.Parallel()

	r := &ContactResult{}
	r.SetBest(&Candidate{Address: "jane@acme.io", Score: 9, Outcome: Valid("250")})
	assert.Equal(t, "jane@acme.io", r.Email)
	assert.Equal(t, 9, r.Score)
	assert.Equal(t, "smtp_verified", r.VerificationMethod)

	r.UseMethod(MethodPatternGeneration)
	r.UseMethod(MethodPatternGeneration)
	assert.Equal(t, []string{MethodPatternGeneration}, r.MethodsUsed)

	r.SetBest(nil)
	assert.Empty(t, r.Email)
}
