package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRuleRequiresEveryType(t *testing.T) {
	rule, err := NewEvidenceRule("")
	require.NoError(t, err)
	require.Equal(t, DefaultEvidenceRule, rule.String())

	ok, err := rule.Satisfied([]string{"photo", "gps"}, []string{"gps", "photo", "note"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rule.Satisfied([]string{"photo", "gps"}, []string{"photo"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = rule.Satisfied(nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCustomRule(t *testing.T) {
	rule, err := NewEvidenceRule("size(required) == 0 || required.exists(t, t in supplied)")
	require.NoError(t, err)

	ok, err := rule.Satisfied([]string{"photo", "gps"}, []string{"gps"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rule.Satisfied([]string{"photo"}, []string{"note"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidRule(t *testing.T) {
	_, err := NewEvidenceRule("required.all(t,")
	require.Error(t, err)

	_, err = NewEvidenceRule("size(supplied)")
	require.Error(t, err)
}
