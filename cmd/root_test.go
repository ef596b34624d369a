package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hazmat-radar/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"fetch", "discover", "filter", "publish", "query", "status", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "hazmat-radar", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestMonthCommands_Flags(t *testing.T) {
	for _, flagName := range []string{"year", "month", "num-months", "forward"} {
		assert.NotNil(t, fetchCmd.Flags().Lookup(flagName), "fetch should have --%s flag", flagName)
		assert.NotNil(t, discoverCmd.Flags().Lookup(flagName), "discover should have --%s flag", flagName)
	}
	for _, flagName := range []string{"overwrite", "expand"} {
		assert.NotNil(t, fetchCmd.Flags().Lookup(flagName), "fetch should have --%s flag", flagName)
	}
	for _, flagName := range []string{"concurrency", "strict"} {
		assert.NotNil(t, discoverCmd.Flags().Lookup(flagName), "discover should have --%s flag", flagName)
	}
}

func TestPublishCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"num-months", "discovered-days"} {
		flag := publishCmd.Flags().Lookup(flagName)
		require.NotNil(t, flag, "publish should have --%s flag", flagName)
		assert.Equal(t, "0", flag.DefValue)
	}
}

func TestQueryCommand_RequiredFlags(t *testing.T) {
	for _, flagName := range []string{"date-from", "date-to"} {
		flag := queryCmd.Flags().Lookup(flagName)
		require.NotNil(t, flag)
		assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("output")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
	assert.Equal(t, "o", flag.Shorthand)
}

func TestMonthFlags_Start(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	var f monthFlags
	assert.Equal(t, model.NewMonth(2024, 3), f.start(now))

	f = monthFlags{year: 2023, month: 11}
	assert.Equal(t, model.NewMonth(2023, 11), f.start(now))

	f = monthFlags{month: 1}
	assert.Equal(t, model.NewMonth(2024, 1), f.start(now))
}

func TestMonthFlags_Count(t *testing.T) {
	var f monthFlags
	assert.Equal(t, 3, f.count(3))

	f.numMonths = 12
	assert.Equal(t, 12, f.count(3))
}
