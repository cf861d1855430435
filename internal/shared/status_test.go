package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocumentStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to DocumentStatus
		ok       bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusCancelled, true},
		{StatusApproved, StatusPending, false},
		{StatusApproved, StatusApproved, false},
		{StatusApproved, StatusCancelled, false},
		{StatusCancelled, StatusApproved, false},
		{StatusCancelled, StatusPending, false},
		{DocumentStatus("UNKNOWN"), StatusApproved, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionRejectsTerminalStates(t *testing.T) {
	got, err := Transition(StatusApproved, StatusApproved)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusApproved, got)

	got, err = Transition(StatusPending, StatusApproved)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got)
}

func TestFormatRef(t *testing.T) {
	require.Equal(t, "SAJM-00007", FormatRef("SAJM", 7))
	require.Equal(t, "SR-00001", FormatRef("SR", 1))
	require.Equal(t, "INV-123456", FormatRef("INV", 123456))
}

func TestPrefix(t *testing.T) {
	p, err := Prefix(DocTypeAdjustment)
	require.NoError(t, err)
	require.Equal(t, "SAJM", p)

	_, err = Prefix(DocType("BOGUS"))
	require.ErrorIs(t, err, ErrUnknownDocType)
}
