package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"serve", "worker", "ingest", "enqueue", "migrate", "seed"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "assessment-ingest", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestWorkerCommand_Flags(t *testing.T) {
	for _, name := range []string{"dlq", "all"} {
		flag := workerCmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestArgs(t *testing.T) {
	assert.Error(t, ingestCmd.Args(ingestCmd, nil))
	assert.Error(t, ingestCmd.Args(ingestCmd, []string{"1", "2"}))
	assert.NoError(t, ingestCmd.Args(ingestCmd, []string{"1"}))
	assert.Error(t, enqueueCmd.Args(enqueueCmd, nil))
	assert.NoError(t, enqueueCmd.Args(enqueueCmd, []string{"1", "2"}))
	assert.Error(t, seedCmd.Args(seedCmd, nil))
}

func TestParseUploadID(t *testing.T) {
	id, err := parseUploadID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-1", "1.5"} {
		_, err := parseUploadID(bad)
		assert.Error(t, err, bad)
	}
}
