package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/util"
)

func TestExportAndPrune(t *testing.T) {
	db, err := util.InitDatabase("sqlite", "")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Alert{}, &models.Responder{}))

	db.Create(&models.Alert{ID: "a1", CreatorID: "u1", Category: models.CategoryMedical,
		Status: models.AlertActive, CreatedAt: time.Now()})
	db.Create(&models.Responder{AlertID: "a1", UserID: "u2",
		Status: models.ResponderAccepted, UpdatedAt: time.Now()})

	dir := t.TempDir()
	a := NewArchiver(db, dir, 2)

	require.NoError(t, a.Export(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "a1", snap.Alerts[0].ID)
	require.Len(t, snap.Responders, 1)
	assert.Equal(t, models.ResponderAccepted, snap.Responders[0].Status)

	// 超出保留份数的最旧快照被清理
	for _, name := range []string{"sos_archive_00000001.json", "sos_archive_00000002.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	a.prune()

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
