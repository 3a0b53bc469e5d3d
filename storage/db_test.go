package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	value, err = db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	original := []byte("payload")
	require.NoError(t, db.Put([]byte("k"), original))
	original[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), stored)

	stored[0] = 'Y'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), again)
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir() + "/ledger")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
}
