package domain

import "errors"

// 错误分类：全部是单条级别、可重试/可吸收的，没有进程级致命错误
var (
	// ErrDuplicateIntent 申报的意向ID已存在，调用方换新ID重试
	ErrDuplicateIntent = errors.New("duplicate intent id")

	// ErrInvalidWindow 过期时间 <= 创建时间，申报时拒绝
	ErrInvalidWindow = errors.New("intent expiry must be after creation")

	// ErrDuplicateAttribution 交易已有归因记录
	// indexer 重复投递时内部吸收，不作为失败上抛
	ErrDuplicateAttribution = errors.New("attribution already exists for tx")

	// ErrClaimConflict 认领意向时输掉并发竞争，内部重试一次后放弃
	ErrClaimConflict = errors.New("intent claim lost the race")

	// ErrIntentNotFound 意向不存在
	ErrIntentNotFound = errors.New("intent not found")
)
