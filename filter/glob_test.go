package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowEvent(schema, table string) *event.Event {
	rc := &binlog.RowChange{Schema: schema, Table: table, Op: binlog.OpInsert}
	return event.NewData("src", 1, rc.QualifiedName(), time.Unix(0, 0), rc)
}

func stmtEvent(schema string) *event.Event {
	return event.NewData("src", 1, schema, time.Unix(0, 0), &binlog.Statement{Schema: schema, SQL: "DROP TABLE x"})
}

func configuredGlob(t *testing.T, schemas, tables []string) *Glob {
	t.Helper()
	f := NewGlob("", schemas, tables)
	require.NoError(t, f.Configure())
	require.NoError(t, f.Prepare())
	return f
}

func passes(t *testing.T, f Filter, ev *event.Event) bool {
	t.Helper()
	d, err := f.Process(ev)
	require.NoError(t, err)
	return !d.Dropped()
}

func TestGlob_EmptyPatternsMatchEverything(t *testing.T) {
	f := configuredGlob(t, nil, nil)

	assert.True(t, passes(t, f, rowEvent("any_db", "any_table")))
	assert.True(t, passes(t, f, rowEvent("", "")))
	assert.True(t, passes(t, f, stmtEvent("production")))
}

func TestGlob_ExactMatch(t *testing.T) {
	f := configuredGlob(t, []string{"production"}, []string{"users"})

	assert.True(t, passes(t, f, rowEvent("production", "users")))
	assert.False(t, passes(t, f, rowEvent("staging", "users")))
	assert.False(t, passes(t, f, rowEvent("production", "orders")))
	assert.False(t, passes(t, f, rowEvent("staging", "orders")))
}

func TestGlob_Wildcard(t *testing.T) {
	f := configuredGlob(t, []string{"prod*"}, []string{"user*"})

	assert.True(t, passes(t, f, rowEvent("production", "users")))
	assert.True(t, passes(t, f, rowEvent("prod", "user")))
	assert.True(t, passes(t, f, rowEvent("prod_db", "user_accounts")))
	assert.False(t, passes(t, f, rowEvent("staging", "users")))
	assert.False(t, passes(t, f, rowEvent("production", "orders")))
}

func TestGlob_MultiplePatterns(t *testing.T) {
	f := configuredGlob(t, []string{"*_prod", "*_staging"}, []string{"user_*", "order_*"})

	assert.True(t, passes(t, f, rowEvent("app_prod", "user_accounts")))
	assert.True(t, passes(t, f, rowEvent("app_staging", "order_items")))
	assert.False(t, passes(t, f, rowEvent("app_dev", "user_accounts")))
	assert.False(t, passes(t, f, rowEvent("app_prod", "inventory")))
}

func TestGlob_StatementsMatchSchemaOnly(t *testing.T) {
	f := configuredGlob(t, []string{"shop"}, []string{"orders"})

	assert.True(t, passes(t, f, stmtEvent("shop")))
	assert.False(t, passes(t, f, stmtEvent("billing")))
}

func TestGlob_OtherPayloadsPass(t *testing.T) {
	f := configuredGlob(t, []string{"shop"}, nil)

	assert.True(t, passes(t, f, event.NewError("src", 3, errors.New("decode failed"))))
	assert.True(t, passes(t, f, event.NewData("src", 4, "", time.Unix(0, 0), "opaque")))
}

func TestGlob_InvalidPatternIsConfigurationError(t *testing.T) {
	f := NewGlob("tables", nil, []string{"[unclosed"})
	err := f.Configure()

	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "tables", ce.Filter)
	assert.Contains(t, ce.Reason, "[unclosed")
}
