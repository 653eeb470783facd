package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func completed(transcript string) *Meeting {
	return &Meeting{
		RecallBotID:  strPtr("bot-1"),
		RecallStatus: strPtr(RecallStatusCompleted),
		Transcript:   strPtr(transcript),
	}
}

func TestCountsTowardQuotaTrimsWhitespace(t *testing.T) {
	body := strings.Repeat("a", 10)

	assert.True(t, completed(body).CountsTowardQuota(10))
	assert.True(t, completed("\n\t "+body+"\r\n").CountsTowardQuota(10))
	assert.False(t, completed("\n\t\v\f"+body[:9]+"\r\n\t\t").CountsTowardQuota(10))
	assert.False(t, completed(strings.Repeat("\n", 20)).CountsTowardQuota(1))
}

func TestCountsTowardQuotaCountsRunes(t *testing.T) {
	assert.True(t, completed("héllo").CountsTowardQuota(5))
	assert.False(t, completed("héllo").CountsTowardQuota(6))
}

func TestCountsTowardQuotaRequiresFinishedBot(t *testing.T) {
	m := completed(strings.Repeat("a", 50))
	m.RecallStatus = strPtr(RecallStatusRecording)
	assert.False(t, m.CountsTowardQuota(10))

	m = completed(strings.Repeat("a", 50))
	m.RecallError = strPtr("Bot stuck in WAITING_ROOM")
	assert.False(t, m.CountsTowardQuota(10))
}
