package model

import (
	"time"
)

// SellerType 卖家类型。
type SellerType string

const (
	SellerPrivate SellerType = "private" // 私人业主
	SellerAgency  SellerType = "agency"  // 中介
	SellerUnknown SellerType = "unknown" // 无法判断
)

// Listing 表示一条归一化后的房源。
//
// (Portal, ExternalID) 是去重键；本引擎只负责首次入库与幂等覆盖，
// 生命周期 / 质检结论作为独立事实由下游关联，不回写本表的业务状态。
type Listing struct {
	ID        uint      `gorm:"primaryKey"` // 内部 ID
	CreatedAt time.Time // 首次抓取时间
	UpdatedAt time.Time // 最近一次覆盖时间

	Portal     string `gorm:"type:varchar(32);uniqueIndex:idx_portal_external,priority:1;not null"` // 门户标识
	ExternalID string `gorm:"type:varchar(64);uniqueIndex:idx_portal_external,priority:2;not null"` // 门户侧唯一 ID
	DedupHash  string `gorm:"type:char(64);index"`                                                  // sha256(portal|external_id)

	Title       string `gorm:"type:varchar(512)"`
	Description string `gorm:"type:text"`

	Price     *int64   // 价格（欧元整数，nil 表示未知；有值时必须 > 0）
	SurfaceM2 *float64 // 面积（m²，同上）
	RoomCount *int     // 房间数

	SellerType string `gorm:"type:varchar(16);default:unknown"` // private / agency / unknown
	Phone      string `gorm:"type:varchar(16)"`                 // 归一化后的 9 位号码，空串表示无

	PhotoURLs PhotoList `gorm:"type:json"`               // 有序图片链接
	SourceURL string    `gorm:"type:varchar(1024)"`      // 详情页地址
	Zone      string    `gorm:"type:varchar(128);index"` // 采集区域标识

	CapturedAt time.Time // 抓取时刻
}

// LifecycleVerdict 记录一次存量房源核查结论。
//
// 同一房源可被多次核查，每次核查都是一条新事实。
type LifecycleVerdict struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	Portal     string    `gorm:"type:varchar(32);index:idx_verdict_ref,priority:1;not null"`
	ExternalID string    `gorm:"type:varchar(64);index:idx_verdict_ref,priority:2;not null"`
	Verdict    string    `gorm:"type:varchar(16);not null"` // active / removed / unknown
	Reason     string    `gorm:"type:varchar(32)"`          // http_404 / redirected_to_search / ...
	CheckedAt  time.Time `gorm:"index"`
}

// 生命周期结论取值。
const (
	VerdictActive  = "active"
	VerdictRemoved = "removed"
	VerdictUnknown = "unknown"
)

// 生命周期结论原因码。
const (
	ReasonHTTP404          = "http_404"
	ReasonHTTP410          = "http_410"
	ReasonBlocked          = "blocked"
	ReasonRedirectedHome   = "redirected_to_home"
	ReasonRedirectedSearch = "redirected_to_search"
	ReasonContentMatch     = "content_match"
	ReasonOK               = "ok"
	ReasonNetworkError     = "network_error"
)

// QualityCheckResult 记录一次抽样质检的字段级比对结果。
type QualityCheckResult struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	Portal     string `gorm:"type:varchar(32);index;not null"`
	ExternalID string `gorm:"type:varchar(64);not null"`
	RunID      string `gorm:"type:char(36);index"` // 同一次审计共享 RunID

	PriceOutcome   string `gorm:"type:varchar(16)"` // match / mismatch / inconclusive
	SurfaceOutcome string `gorm:"type:varchar(16)"`
	SellerOutcome  string `gorm:"type:varchar(16)"`

	PriceDivergence   float64 // 价格相对偏差（0.03 = 3%）
	SurfaceDivergence float64 // 面积绝对偏差（m²）
}

// 质检字段比对取值。
const (
	OutcomeMatch        = "match"
	OutcomeMismatch     = "mismatch"
	OutcomeInconclusive = "inconclusive"
)
