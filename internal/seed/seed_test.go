package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/jmehdipour/sms-forwarder/internal/db"
	"github.com/jmehdipour/sms-forwarder/internal/model"
	"github.com/jmehdipour/sms-forwarder/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
rules:
  - name: no promos
    type: keyword
    pattern: promo
    action: block
    priority: 10
  - name: night
    type: time-based
    pattern: "days=1,2,3,4,5;start=22:00;end=06:00"
    action: BLOCK
    enabled: false
targets:
  - phone: "05552222222"
    display_name: Office
    primary: true
    selection_mode: source_sim
  - phone: "+905553333333"
    preferred_slot: 1
    selection_mode: specific_sim
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, f.Rules, 2)
	require.Len(t, f.Targets, 2)

	r, err := f.Rules[1].toModel()
	require.NoError(t, err)
	assert.Equal(t, model.RuleTimeBased, r.Type)
	assert.Equal(t, model.ActionBlock, r.Action)
	assert.False(t, r.Enabled)

	tg := f.Targets[0].toModel("90")
	assert.Equal(t, "+905552222222", tg.Phone)
	assert.Equal(t, model.NoPreferredSlot, tg.PreferredSlot)
	assert.Equal(t, model.SelectionSourceSIM, tg.SelectionMode)
	assert.True(t, tg.Enabled)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": "rules:\n  - name: x\n    type: keyword\n    action: block\n    colour: red\n",
		"missing name":  "rules:\n  - type: keyword\n    action: block\n",
		"bad type":      "rules:\n  - name: x\n    type: vibes\n    action: block\n",
		"bad action":    "rules:\n  - name: x\n    type: keyword\n    action: maybe\n",
		"bad mode":      "targets:\n  - phone: '+905552222222'\n    selection_mode: sim3\n",
		"missing phone": "targets:\n  - display_name: nobody\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Rules)
}

func TestApplyIsIdempotent(t *testing.T) {
	dbx, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbx.Close() })
	require.NoError(t, db.Migrate(dbx))

	rules := repository.NewRulesRepository(dbx)
	targets := repository.NewTargetsRepository(dbx)
	ctx := context.Background()

	res, err := Apply(ctx, rules, targets, Demo(), "90")
	require.NoError(t, err)
	assert.Equal(t, 4, res.RulesInserted)
	assert.Equal(t, 1, res.Targets)

	res, err = Apply(ctx, rules, targets, Demo(), "90")
	require.NoError(t, err)
	assert.Equal(t, 0, res.RulesInserted)
	assert.Equal(t, 4, res.RulesSkipped)

	all, err := rules.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "block spam", all[0].Name)

	enabled, err := rules.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 3)

	list, err := targets.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Primary)
}
