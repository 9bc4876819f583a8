package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicies_Valid(t *testing.T) {
	tbl, err := NewPolicyTable(DefaultPolicies()...)
	require.NoError(t, err)

	access, ok := tbl.Get(ClassAccess)
	require.True(t, ok)
	require.LessOrEqual(t, access.TTL, 10*time.Minute)
	require.False(t, access.Stateful())

	refresh, _ := tbl.Get(ClassRefresh)
	require.Equal(t, TriggerSingleUse, refresh.Trigger)
	require.True(t, refresh.Stateful())

	_, ok = tbl.Get(Class(0))
	require.False(t, ok)
}

func TestPolicyTable_Validation(t *testing.T) {
	base := DefaultPolicies()

	shared := append([]Policy(nil), base...)
	shared[3].Audience = []string{"journal-api"}
	_, err := NewPolicyTable(shared...)
	require.ErrorContains(t, err, "shared")

	_, err = NewPolicyTable(base[:3]...)
	require.ErrorContains(t, err, "missing class m2m")

	zero := append([]Policy(nil), base...)
	zero[0].TTL = 0
	_, err = NewPolicyTable(zero...)
	require.Error(t, err)

	dup := append(append([]Policy(nil), base...), base[1])
	_, err = NewPolicyTable(dup...)
	require.ErrorContains(t, err, "twice")
}

func TestClass_TextRoundTrip(t *testing.T) {
	for _, c := range Classes() {
		b, err := c.MarshalText()
		require.NoError(t, err)
		var got Class
		require.NoError(t, got.UnmarshalText(b))
		require.Equal(t, c, got)
	}
	_, err := ParseClass("admin")
	require.ErrorIs(t, err, ErrUnknownPolicyClass)
}
