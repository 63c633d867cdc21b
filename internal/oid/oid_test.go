package oid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meroton/git-toprepo/internal/oid"
)

func TestNewCheckedRoundTrip(t *testing.T) {
	const hex40 = "0123456789abcdef0123456789abcdef01234567"
	o, err := oid.NewChecked(hex40)
	require.NoError(t, err)
	require.Equal(t, hex40, o.String())
}

func TestNewCheckedRejectsBadLength(t *testing.T) {
	_, err := oid.NewChecked("deadbeef")
	require.Error(t, err)
}

func TestZeroIsZero(t *testing.T) {
	require.True(t, oid.Zero.IsZero())
	nonZero := oid.New("0123456789abcdef0123456789abcdef01234567")
	require.False(t, nonZero.IsZero())
}

func TestSortIsStableAndByteWise(t *testing.T) {
	a := oid.New("1111111111111111111111111111111111111111")
	b := oid.New("2222222222222222222222222222222222222222")
	s := []oid.OID{b, a}
	oid.Sort(s)
	require.Equal(t, []oid.OID{a, b}, s)
}

func TestMarshalTextRoundTrip(t *testing.T) {
	o := oid.New("0123456789abcdef0123456789abcdef01234567")
	text, err := o.MarshalText()
	require.NoError(t, err)
	var back oid.OID
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, o, back)
}
