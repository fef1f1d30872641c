package jsonguard_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lijian-bjfu/physiobridge/internal/jsonguard"
)

func TestFloat(t *testing.T) {
	got := jsonguard.Float(3.5)
	require.NotNil(t, got)
	require.Equal(t, 3.5, *got)

	require.Nil(t, jsonguard.Float("3.5"))
	require.Nil(t, jsonguard.Float(nil))
	require.Nil(t, jsonguard.Float(true))
}

func TestInt(t *testing.T) {
	got := jsonguard.Int(4.0)
	require.NotNil(t, got)
	require.Equal(t, 4, *got)
	require.Nil(t, jsonguard.Int("4"))
}

func TestBool(t *testing.T) {
	require.Equal(t, 1.0, jsonguard.Bool(true))
	require.Equal(t, 0.0, jsonguard.Bool(false))
	require.Equal(t, 0.0, jsonguard.Bool(nil))
}

func TestRowsAsFloat(t *testing.T) {
	mat := []any{
		[]any{1.0, 2.0, 3.0},
		[]any{4.0, 5.0}, // too short for ch=3, dropped
		"not a row",     // wrong type, dropped
		[]any{6.0, 7.0, "bad"}, // non-numeric entry, dropped
		[]any{8.0, 9.0, 10.0, 11.0}, // longer than ch is fine, truncated to ch
	}

	rows := jsonguard.RowsAsFloat(mat, 3)
	require.Equal(t, [][]float64{
		{1.0, 2.0, 3.0},
		{8.0, 9.0, 10.0},
	}, rows)
}

func TestRowsAsFloat_InvalidShape(t *testing.T) {
	require.Nil(t, jsonguard.RowsAsFloat("not a matrix", 3))
	require.Nil(t, jsonguard.RowsAsFloat([]any{[]any{1.0}}, 0))
}
