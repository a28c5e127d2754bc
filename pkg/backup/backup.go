package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/logger"
)

// Archiver 事件归档：定期把告警与响应者记录导出为JSON快照。
// 终结的告警最终会被清扫出主表，归档是事后复盘的数据来源
type Archiver struct {
	db   *gorm.DB
	dir  string
	keep int // 保留的快照份数，0表示不清理
}

func NewArchiver(db *gorm.DB, dir string, keep int) *Archiver {
	if dir == "" {
		dir = "archive"
	}
	return &Archiver{db: db, dir: dir, keep: keep}
}

type snapshot struct {
	ExportedAt time.Time          `json:"exported_at"`
	Alerts     []models.Alert     `json:"alerts"`
	Responders []models.Responder `json:"responders"`
}

// Run 执行一次归档，供定时任务调用
func (a *Archiver) Run(ctx context.Context) {
	if err := a.Export(ctx); err != nil {
		logger.Warn("incident archive failed", zap.Error(err))
		return
	}
	a.prune()
}

// Export 导出当前全部告警数据到带时间戳的快照文件
func (a *Archiver) Export(ctx context.Context) error {
	var snap snapshot
	snap.ExportedAt = time.Now()

	if err := a.db.WithContext(ctx).Order("created_at").Find(&snap.Alerts).Error; err != nil {
		return fmt.Errorf("load alerts: %w", err)
	}
	if err := a.db.WithContext(ctx).Order("updated_at").Find(&snap.Responders).Error; err != nil {
		return fmt.Errorf("load responders: %w", err)
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	path := filepath.Join(a.dir, fmt.Sprintf("sos_archive_%s.json", snap.ExportedAt.Format("20060102_150405")))
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	logger.Info("incident archive written",
		zap.String("path", path),
		zap.Int("alerts", len(snap.Alerts)),
		zap.Int("responders", len(snap.Responders)))
	return nil
}

// prune 删除超出保留份数的最旧快照
func (a *Archiver) prune() {
	if a.keep <= 0 {
		return
	}
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "sos_archive_") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= a.keep {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-a.keep] {
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil {
			logger.Warn("prune archive failed", zap.String("file", name), zap.Error(err))
		}
	}
}
