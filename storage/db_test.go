package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBPutGetDelete(t *testing.T) {
	db := NewMemDB()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	_, err = db.Get([]byte("absent"))
	require.True(t, errors.Is(err, ErrKeyNotFound))

	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	require.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("epoch/checkpoint"), []byte(`{"epoch_id":3}`)))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("epoch/checkpoint"))
	require.NoError(t, err)
	require.Equal(t, []byte(`{"epoch_id":3}`), got)

	_, err = db2.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrKeyNotFound))
}
