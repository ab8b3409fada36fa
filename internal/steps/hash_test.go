package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsHashStable(t *testing.T) {
	p := MergeParams{
		LeftSheetID:       "e-1",
		RightSheetID:      "e-4",
		How:               "left",
		MergeKeyColumnIDs: []KeyPair{{Left: "e-2", Right: "e-5"}},
	}

	first, err := ParamsHash(p)
	require.NoError(t, err)
	second, err := ParamsHash(p.Clone().(MergeParams))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestParamsHashDistinguishesContent(t *testing.T) {
	a := ImportParams{Source: "sales.csv", SheetName: "Sales"}
	b := ImportParams{Source: "sales.csv", SheetName: "Targets"}

	ha, err := ParamsHash(a)
	require.NoError(t, err)
	hb, err := ParamsHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestParamsHashDistinguishesType(t *testing.T) {
	// Same field content under different step types must not collide: the
	// type is part of the hashed envelope.
	del := DeleteColumnParams{SheetID: "e-1", ColumnIDs: []string{"e-2"}}
	srt := SortColumnParams{SheetID: "e-1", ColumnID: "e-2"}

	hd := MustParamsHash(del)
	hs := MustParamsHash(srt)
	assert.NotEqual(t, hd, hs)
}

func TestParamsHashNormalizesUnicode(t *testing.T) {
	// NFC vs NFD spellings of the same header hash identically.
	nfc := AddColumnParams{SheetID: "e-1", Header: "café"}
	nfd := AddColumnParams{SheetID: "e-1", Header: "café"}

	assert.Equal(t, MustParamsHash(nfc), MustParamsHash(nfd))
}
