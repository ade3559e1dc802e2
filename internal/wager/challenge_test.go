package wager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusWaiting, StatusAccepted},
		{StatusWaiting, StatusExpired},
		{StatusAccepted, StatusCompleted},
	}
	all := []Status{StatusWaiting, StatusAccepted, StatusCompleted, StatusExpired}

	isAllowed := func(from, to Status) bool {
		for _, a := range allowed {
			if a[0] == from && a[1] == to {
				return true
			}
		}
		return false
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, isAllowed(from, to), CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusExpired.IsTerminal())
	assert.False(t, StatusWaiting.IsTerminal())
	assert.False(t, StatusAccepted.IsTerminal())
}

func TestChallenge_Validate(t *testing.T) {
	ok := Challenge{Creator: "a", Opponent: "b", Stake: 10, CreatorColor: White, Status: StatusWaiting}
	assert.NoError(t, ok.Validate())

	withMatch := ok
	withMatch.MatchID = "m1"
	assert.ErrorIs(t, withMatch.Validate(), ErrInvalidChallenge)

	accepted := ok
	accepted.Status = StatusAccepted
	assert.ErrorIs(t, accepted.Validate(), ErrInvalidChallenge)
	accepted.MatchID = "m1"
	assert.NoError(t, accepted.Validate())

	self := ok
	self.Opponent = "a"
	assert.ErrorIs(t, self.Validate(), ErrInvalidChallenge)

	color := ok
	color.CreatorColor = "red"
	assert.ErrorIs(t, color.Validate(), ErrInvalidChallenge)
}
