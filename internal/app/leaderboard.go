package app

import (
	"fmt"
	"sort"

	"live-quiz-service/internal/domain"
)

// TiePolicy decides how participants with equal scores are ranked.
type TiePolicy string

const (
	// TiePolicyJoinOrder gives every participant a distinct rank; ties keep join order.
	TiePolicyJoinOrder TiePolicy = "join_order"
	// TiePolicyFastest gives distinct ranks; ties go to the lower total answer time.
	TiePolicyFastest TiePolicy = "fastest"
	// TiePolicyShared gives equal scores the same rank (1, 1, 2).
	TiePolicyShared TiePolicy = "shared"
)

// ParseTiePolicy validates a configured policy name. Empty means TiePolicyJoinOrder.
func ParseTiePolicy(raw string) (TiePolicy, error) {
	switch p := TiePolicy(raw); p {
	case "":
		return TiePolicyJoinOrder, nil
	case TiePolicyJoinOrder, TiePolicyFastest, TiePolicyShared:
		return p, nil
	default:
		return "", fmt.Errorf("unknown tie policy %q", raw)
	}
}

// CompileLeaderboard ranks participants by descending score. The input is expected in
// join order, which is the final tie-break for every policy.
func CompileLeaderboard(participants []domain.Participant, policy TiePolicy) []domain.LeaderboardEntry {
	ordered := make([]domain.Participant, len(participants))
	copy(ordered, participants)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		if policy == TiePolicyFastest {
			return ordered[i].TotalElapsed() < ordered[j].TotalElapsed()
		}
		return false
	})

	entries := make([]domain.LeaderboardEntry, len(ordered))
	rank := 0
	for i, p := range ordered {
		if policy != TiePolicyShared || i == 0 || p.Score != ordered[i-1].Score {
			rank++
		}
		entries[i] = domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Name:          p.Name,
			Score:         p.Score,
			Rank:          rank,
		}
	}
	return entries
}
