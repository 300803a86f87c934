// Package store 是 MySQL 持久化层：房源幂等 upsert、生命周期结论、
// 质检结果，以及核查 / 审计的候选读取。
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/gilito11/casaTevaLeads-sub001/internal/lifecycle"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
)

// Store 封装数据库访问。
type Store struct {
	db *gorm.DB
}

// New 连接 MySQL 并迁移表结构。
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&model.Listing{}, &model.LifecycleVerdict{}, &model.QualityCheckResult{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB 用已有连接构造（测试用）。
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertListing 幂等写入房源，冲突键 (portal, external_id)。
// 再次采到同一房源时覆盖业务字段，保留首次抓取时间。
func (s *Store) UpsertListing(ctx context.Context, l *model.Listing) error {
	if l.Portal == "" || l.ExternalID == "" {
		return fmt.Errorf("listing missing portal/external_id")
	}
	if l.Price != nil && *l.Price <= 0 {
		return fmt.Errorf("listing %s/%s: non-positive price", l.Portal, l.ExternalID)
	}
	if l.SurfaceM2 != nil && *l.SurfaceM2 <= 0 {
		return fmt.Errorf("listing %s/%s: non-positive surface", l.Portal, l.ExternalID)
	}

	// 使用 INSERT ... ON DUPLICATE KEY UPDATE 实现原子化 Upsert
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "portal"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "price", "surface_m2", "room_count",
			"seller_type", "phone", "photo_urls", "source_url", "zone",
			"captured_at", "updated_at",
		}),
	}).Create(l).Error
	if err != nil {
		return fmt.Errorf("upsert listing %s/%s: %w", l.Portal, l.ExternalID, err)
	}
	return nil
}

// SaveVerdict 追加一条生命周期核查结论。
func (s *Store) SaveVerdict(ctx context.Context, v *model.LifecycleVerdict) error {
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("save verdict %s/%s: %w", v.Portal, v.ExternalID, err)
	}
	return nil
}

// SaveQualityResult 追加一条质检比对结果。
func (s *Store) SaveQualityResult(ctx context.Context, r *model.QualityCheckResult) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("save quality result %s/%s: %w", r.Portal, r.ExternalID, err)
	}
	return nil
}

// LifecycleCandidates 返回待核查房源，按抓取时间从旧到新。
func (s *Store) LifecycleCandidates(ctx context.Context, portals []string, limit int) ([]lifecycle.Candidate, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []model.Listing
	err := s.db.WithContext(ctx).
		Where("portal IN ?", portals).
		Order("captured_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load lifecycle candidates: %w", err)
	}

	out := make([]lifecycle.Candidate, 0, len(rows))
	for _, l := range rows {
		out = append(out, lifecycle.Candidate{
			Portal:     l.Portal,
			ExternalID: l.ExternalID,
			SourceURL:  l.SourceURL,
			CapturedAt: l.CapturedAt,
		})
	}
	return out, nil
}

// RecentListings 返回某门户窗口内最近入库的房源，供审计抽样。
func (s *Store) RecentListings(ctx context.Context, portal string, since time.Time, limit int) ([]model.Listing, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []model.Listing
	err := s.db.WithContext(ctx).
		Where("portal = ? AND captured_at >= ?", portal, since).
		Order("captured_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load recent listings: %w", err)
	}
	return rows, nil
}

// Ping 检查数据库连通性（健康检查用）。
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

// CountListings 返回某门户的入库总量（运维接口用）。
func (s *Store) CountListings(ctx context.Context, portal string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Listing{}).
		Where("portal = ?", portal).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}
