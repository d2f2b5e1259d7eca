package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRuleValidation(t *testing.T) {
	cond := []Condition{{Field: "overall_parity", Operator: OpLT, Threshold: 70}}

	t.Run("valid rule", func(t *testing.T) {
		rule, err := NewRule("parity_critical", SeverityCritical, cond, "parity dropped to {overall_parity}", 300*time.Second)
		require.NoError(t, err)
		assert.True(t, rule.Enabled)
		assert.Equal(t, 1, rule.Version)
	})

	t.Run("unknown operator", func(t *testing.T) {
		bad := []Condition{{Field: "x", Operator: Operator("matches"), Threshold: 1}}
		_, err := NewRule("r", SeverityInfo, bad, "", 0)
		require.Error(t, err)
	})

	t.Run("missing conditions", func(t *testing.T) {
		_, err := NewRule("r", SeverityInfo, nil, "", 0)
		require.Error(t, err)
	})

	t.Run("unknown severity", func(t *testing.T) {
		_, err := NewRule("r", Severity("fatal"), cond, "", 0)
		require.Error(t, err)
	})
}

func TestRuleMatching(t *testing.T) {
	rule, err := NewRule("parity_critical", SeverityCritical,
		[]Condition{{Field: "overall_parity", Operator: OpLT, Threshold: 70}},
		"parity {overall_parity}", time.Minute)
	require.NoError(t, err)

	t.Run("numeric comparison", func(t *testing.T) {
		assert.True(t, rule.Matches(Event{Data: map[string]interface{}{"overall_parity": 65}}))
		assert.False(t, rule.Matches(Event{Data: map[string]interface{}{"overall_parity": 70}}))
		assert.False(t, rule.Matches(Event{Data: map[string]interface{}{"overall_parity": 92.5}}))
	})

	t.Run("missing field never matches", func(t *testing.T) {
		assert.False(t, rule.Matches(Event{Data: map[string]interface{}{"other": 1}}))
	})

	t.Run("dotted path resolution", func(t *testing.T) {
		nested, err := NewRule("chain_lag", SeverityWarning,
			[]Condition{{Field: "collector.lag_blocks", Operator: OpGTE, Threshold: 10}},
			"", time.Minute)
		require.NoError(t, err)

		event := Event{Data: map[string]interface{}{
			"collector": map[string]interface{}{"lag_blocks": 12},
		}}
		assert.True(t, nested.Matches(event))
	})

	t.Run("all conditions must hold", func(t *testing.T) {
		multi, err := NewRule("sanctioned_volume", SeverityError,
			[]Condition{
				{Field: "labels", Operator: OpContains, Threshold: "sanctions"},
				{Field: "volume", Operator: OpGT, Threshold: 1000},
			}, "", time.Minute)
		require.NoError(t, err)

		assert.True(t, multi.Matches(Event{Data: map[string]interface{}{
			"labels": []string{"sanctions", "mixer"}, "volume": 5000,
		}}))
		assert.False(t, multi.Matches(Event{Data: map[string]interface{}{
			"labels": []string{"mixer"}, "volume": 5000,
		}}))
	})

	t.Run("not_contains", func(t *testing.T) {
		rule, err := NewRule("unlabelled", SeverityInfo,
			[]Condition{{Field: "labels", Operator: OpNotContains, Threshold: "known_service"}},
			"", 0)
		require.NoError(t, err)
		assert.True(t, rule.Matches(Event{Data: map[string]interface{}{"labels": []string{"mixer"}}}))
		assert.False(t, rule.Matches(Event{Data: map[string]interface{}{"labels": []string{"known_service"}}}))
	})
}

func TestRenderMessage(t *testing.T) {
	rule, err := NewRule("parity_critical", SeverityCritical,
		[]Condition{{Field: "overall_parity", Operator: OpLT, Threshold: 70}},
		"parity dropped to {overall_parity} on {chain}", time.Minute)
	require.NoError(t, err)

	msg := rule.RenderMessage(Event{
		Type: "metrics",
		Data: map[string]interface{}{"overall_parity": 65, "chain": "bitcoin"},
	})
	assert.Equal(t, "parity dropped to 65 on bitcoin", msg)
}
