package backupstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_WritesAtomicSidecarAndIndexes(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	b := Backup{ID: "bk-1", VMName: "web-1", CreatedAt: time.Now().UTC(), Format: FormatOVA, Path: "web-1.ova"}
	require.NoError(t, s.Put(context.Background(), b))

	sidecar := filepath.Join(s.BackupDir("bk-1"), "backup_info.json")
	data, err := os.ReadFile(sidecar)
	require.NoError(t, err)
	var got Backup
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "web-1", got.VMName)

	fetched, err := s.Get(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, FormatOVA, fetched.Format)
}

func TestGet_UnknownReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(context.Background(), "nope")
	require.Error(t, err)
}

func TestList_FiltersByVMAndOrdersNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UTC()
	require.NoError(t, s.Put(context.Background(), Backup{ID: "bk-1", VMName: "web-1", CreatedAt: now.Add(-time.Hour), Format: FormatOVA, Path: "a"}))
	require.NoError(t, s.Put(context.Background(), Backup{ID: "bk-2", VMName: "web-1", CreatedAt: now, Format: FormatOVA, Path: "b"}))
	require.NoError(t, s.Put(context.Background(), Backup{ID: "bk-3", VMName: "db-1", CreatedAt: now, Format: FormatOVF, Path: "c"}))

	webBackups, err := s.List(context.Background(), "web-1")
	require.NoError(t, err)
	require.Len(t, webBackups, 2)
	assert.Equal(t, "bk-2", webBackups[0].ID)

	all, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
