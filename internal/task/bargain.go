package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/parley-io/parley/internal/marketplace"
	"github.com/parley-io/parley/internal/models"
	"gorm.io/gorm"
)

// Gateway is the marketplace surface the resolver needs; the concrete
// client lives in internal/marketplace.
type Gateway interface {
	OrderInfo(ctx context.Context, accessToken, platformOrderID string) (*marketplace.PurchaseOrder, error)
	SendURL(ctx context.Context, accessToken, loginName, password, bizID string) (string, error)
}

// Tokens resolves gateway access tokens.
type Tokens interface {
	AccessToken(ctx context.Context) (string, error)
}

// SubAccount holds the chat credentials of one seller sub-account.
type SubAccount struct {
	LoginName string
	Password  string
}

// BargainResolver resolves dispatch info for auto-bargain tasks: the
// upstream bargain_task row names the order, the marketplace gateway
// turns the order into a chat page link.
type BargainResolver struct {
	db          *gorm.DB
	gateway     Gateway
	tokens      Tokens
	subAccounts map[int64]SubAccount
}

func NewBargainResolver(gdb *gorm.DB, gw Gateway, tokens Tokens, subAccounts map[int64]SubAccount) *BargainResolver {
	return &BargainResolver{db: gdb, gateway: gw, tokens: tokens, subAccounts: subAccounts}
}

// Resolve looks up the upstream bargain row for the task and asks the
// gateway for the order's chat link.
func (r *BargainResolver) Resolve(ctx context.Context, task *models.SessionTask) (*SendInfo, error) {
	tradeID, err := strconv.ParseUint(task.ExternalTaskID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("task: bargain id %q is not numeric: %w", task.ExternalTaskID, err)
	}

	var bargain models.BargainTask
	err = r.db.Where("cpmaso_trade_id = ?", uint(tradeID)).First(&bargain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("task: no bargain row for trade %d", tradeID)
	}
	if err != nil {
		return nil, fmt.Errorf("task: load bargain row %d: %w", tradeID, err)
	}

	info := &SendInfo{
		TaskID:      task.ID,
		SessionID:   task.SessionID,
		ShopName:    bargain.ShopName,
		SendContent: task.SendContent,
	}

	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	order, err := r.gateway.OrderInfo(ctx, token, bargain.TradePlatformOrderID)
	if err != nil {
		return nil, err
	}
	sub, ok := r.subAccounts[order.SubUserID]
	if !ok {
		return nil, fmt.Errorf("task: no credentials for sub-account %d", order.SubUserID)
	}
	url, err := r.gateway.SendURL(ctx, token, sub.LoginName, sub.Password, order.OuterPurchaseID)
	if err != nil {
		return nil, err
	}
	info.SendURL = url
	return info, nil
}
