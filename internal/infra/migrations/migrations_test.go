package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatementsDropsBlanks(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x int);\n\n  CREATE TABLE b (y int);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x int)", "CREATE TABLE b (y int)"}, got)
}

func TestEmbeddedSchemaPresent(t *testing.T) {
	for _, dir := range []string{"postgres", "sqlite", "scylla"} {
		entries, err := files.ReadDir(dir)
		require.NoError(t, err)
		assert.NotEmpty(t, entries, dir)
	}
}
