package classifier

import (
	"strings"

	"vaultmesh.com/internal/attribution/domain"
)

// Class 分类结果
type Class struct {
	Tagged    bool   // 是否携带显式合作方标识
	PartnerID string // Tagged 时有效
}

// Classify 检查链上交易是否带显式合作方标识
// 纯函数：只看交易本身，不访问任何存储
// 只有代理合约路由的充值才会在事件里带上 partner tag
func Classify(dep *domain.ConfirmedDeposit) Class {
	tag := strings.TrimSpace(dep.PartnerTag)
	if tag == "" {
		return Class{}
	}
	return Class{Tagged: true, PartnerID: tag}
}
