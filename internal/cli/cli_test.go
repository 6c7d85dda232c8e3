package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bissquit/incident-pager/internal/config"
	"github.com/bissquit/incident-pager/internal/identity/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func runToken(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var configPath string
	var out bytes.Buffer
	root := &cli.Command{
		Name:     "incident-pager",
		Commands: []*cli.Command{cmdToken(&configPath, &out)},
	}
	err := root.Run(context.Background(), append([]string{"incident-pager", "token"}, args...))
	return strings.TrimSpace(out.String()), err
}

func TestTokenCommand_IssuesValidToken(t *testing.T) {
	t.Setenv(config.EnvPrefix+"AUTH__SECRET", testSecret)
	t.Setenv(config.EnvPrefix+"AUTH__ISSUER", "incident-pager")

	tok, err := runToken(t, "--user-id", "42", "--ttl", "1h")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	userID, err := token.NewValidator(token.Config{Secret: testSecret, Issuer: "incident-pager"}).ValidateToken(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	_, err := runToken(t, "--user-id", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret is required")
}

func TestTokenCommand_RequiresUserID(t *testing.T) {
	t.Setenv(config.EnvPrefix+"AUTH__SECRET", testSecret)

	_, err := runToken(t)
	require.Error(t, err)
}

func TestRun_MigrateWithoutDatabase(t *testing.T) {
	err := Run(context.Background(), []string{"incident-pager", "migrate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
}

func TestRun_ServeRejectsInvalidConfig(t *testing.T) {
	err := Run(context.Background(), []string{"incident-pager", "serve"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
