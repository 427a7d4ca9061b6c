package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames_Sorted(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
	assert.IsIncreasing(t, names)
}

func TestInitMigration_DeclaresTicketInvariants(t *testing.T) {
	sql, err := migrationFiles.ReadFile("001_init.sql")
	require.NoError(t, err)

	body := string(sql)
	assert.Contains(t, body, "UNIQUE (event_id, participant_id)")
	assert.Contains(t, body, "token TEXT NOT NULL UNIQUE")
	assert.Contains(t, body, "CHECK (state <> 'CONSUMED' OR consumed_at IS NOT NULL)")
	assert.Contains(t, body, "ticket_token_history")
}
