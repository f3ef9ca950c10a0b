package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{
		"hash", "amount", "token", "init", "set-relayer", "transfer-ownership", "roles",
		"deposit", "withdraw", "balance", "send", "claim", "refund", "transfer",
		"history", "solvency",
	} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommandPersistentFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"profile", "endpoint", "token", "format", "timeout"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, "op: "+assert.AnError.Error(), WrapExitError(ExitFailure, "op", assert.AnError).Error())
}
