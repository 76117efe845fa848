package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/domain"
)

func rankedIDs(entries []domain.LeaderboardEntry) ([]string, []int) {
	ids := make([]string, len(entries))
	ranks := make([]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ParticipantID
		ranks[i] = e.Rank
	}
	return ids, ranks
}

// Participants are listed in join order: ann, ben, cat, dan.
func tiedParticipants() []domain.Participant {
	return []domain.Participant{
		{ID: "ann", Name: "Ann", Score: 1200, Answers: map[int]domain.AnswerRecord{0: {ElapsedMs: 9000}}},
		{ID: "ben", Name: "Ben", Score: 1500, Answers: map[int]domain.AnswerRecord{0: {ElapsedMs: 100}}},
		{ID: "cat", Name: "Cat", Score: 1200, Answers: map[int]domain.AnswerRecord{0: {ElapsedMs: 3000}}},
		{ID: "dan", Name: "Dan", Score: 0},
	}
}

func TestCompileLeaderboardJoinOrder(t *testing.T) {
	ids, ranks := rankedIDs(CompileLeaderboard(tiedParticipants(), TiePolicyJoinOrder))
	assert.Equal(t, []string{"ben", "ann", "cat", "dan"}, ids)
	assert.Equal(t, []int{1, 2, 3, 4}, ranks)
}

func TestCompileLeaderboardFastest(t *testing.T) {
	ids, ranks := rankedIDs(CompileLeaderboard(tiedParticipants(), TiePolicyFastest))
	assert.Equal(t, []string{"ben", "cat", "ann", "dan"}, ids)
	assert.Equal(t, []int{1, 2, 3, 4}, ranks)
}

func TestCompileLeaderboardShared(t *testing.T) {
	entries := CompileLeaderboard(tiedParticipants(), TiePolicyShared)
	ids, ranks := rankedIDs(entries)
	assert.Equal(t, []string{"ben", "ann", "cat", "dan"}, ids)
	assert.Equal(t, []int{1, 2, 2, 3}, ranks)
	assert.Equal(t, "Ann", entries[1].Name)
	assert.Equal(t, 1200, entries[1].Score)
}

func TestCompileLeaderboardDoesNotReorderInput(t *testing.T) {
	input := tiedParticipants()
	_ = CompileLeaderboard(input, TiePolicyFastest)
	assert.Equal(t, "ann", input[0].ID)
	assert.Empty(t, CompileLeaderboard(nil, TiePolicyJoinOrder))
}

func TestParseTiePolicy(t *testing.T) {
	policy, err := ParseTiePolicy("")
	require.NoError(t, err)
	assert.Equal(t, TiePolicyJoinOrder, policy)

	policy, err = ParseTiePolicy("shared")
	require.NoError(t, err)
	assert.Equal(t, TiePolicyShared, policy)

	_, err = ParseTiePolicy("alphabetical")
	assert.Error(t, err)
}
