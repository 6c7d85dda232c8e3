//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/identity"
	"github.com/bissquit/incident-pager/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_FindUser(t *testing.T) {
	ctx := context.Background()

	pool := testutil.NewMigratedPool(t)
	d := NewDirectory(pool)

	teamID, err := d.CreateTeam(ctx, "sre")
	require.NoError(t, err)

	withTeam := &domain.User{Username: "alice", Email: "alice@example.com", TeamID: &teamID, OnCall: true, Active: true}
	require.NoError(t, d.CreateUser(ctx, withTeam))
	noTeam := &domain.User{Username: "bob", Email: "bob@example.com", Active: true}
	require.NoError(t, d.CreateUser(ctx, noTeam))

	got, err := d.FindUser(ctx, withTeam.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	require.NotNil(t, got.TeamName)
	assert.Equal(t, "sre", *got.TeamName)
	assert.True(t, got.OnCall)

	got, err = d.FindUser(ctx, noTeam.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TeamID)
	assert.Nil(t, got.TeamName)

	_, err = d.FindUser(ctx, 9999)
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}
