package marketplace

import (
	"context"
	"fmt"
)

// PurchaseOrder is the subset of the order payload the dispatcher needs:
// the outer purchase id keys the chat link, the sub-user id identifies
// which seller sub-account owns the conversation.
type PurchaseOrder struct {
	OuterPurchaseID string `json:"outer_purchase_id"`
	SubUserID       int64  `json:"sub_user_id"`
	Status          string `json:"status"`
}

type orderQueryBody struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

// OrderInfo looks up a purchase order by the platform order id recorded on
// the upstream bargain task.
func (c *Client) OrderInfo(ctx context.Context, accessToken, platformOrderID string) (*PurchaseOrder, error) {
	resp, err := c.Execute(ctx, "/purchase/orders/query", map[string]string{
		"outer_purchase_id": platformOrderID,
		"page_no":           "1",
		"page_size":         "10",
	}, accessToken)
	if err != nil {
		return nil, err
	}

	var body orderQueryBody
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("marketplace: parse order query for %s: %w", platformOrderID, err)
	}
	if len(body.PurchaseOrders) == 0 {
		return nil, fmt.Errorf("marketplace: no order found for %s", platformOrderID)
	}
	return &body.PurchaseOrders[0], nil
}

type pageLinkBody struct {
	URL string `json:"url"`
}

// SendURL resolves the chat page link a worker opens to deliver messages
// for an order. loginName and password authenticate the seller sub-account
// that owns the conversation.
func (c *Client) SendURL(ctx context.Context, accessToken, loginName, password, bizID string) (string, error) {
	resp, err := c.Execute(ctx, "/page/link/get", map[string]string{
		"login_name": loginName,
		"password":   password,
		"biz_type":   "purchase_chat",
		"biz_id":     bizID,
	}, accessToken)
	if err != nil {
		return "", err
	}

	var body pageLinkBody
	if err := resp.Decode(&body); err != nil {
		return "", fmt.Errorf("marketplace: parse page link for %s: %w", bizID, err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("marketplace: empty page link for %s", bizID)
	}
	return body.URL, nil
}
