package client

import (
	"context"

	"qce/internal/element"
)

// groupHistoryParams get_group_msg_history 参数。
type groupHistoryParams struct {
	GroupID      string `json:"group_id"`
	MessageSeq   string `json:"message_seq,omitempty"` // 空取最新
	Count        int    `json:"count"`
	ReverseOrder bool   `json:"reverseOrder"`
}

// friendHistoryParams get_friend_msg_history 参数。
type friendHistoryParams struct {
	UserID       string `json:"user_id"`
	MessageSeq   string `json:"message_seq,omitempty"`
	Count        int    `json:"count"`
	ReverseOrder bool   `json:"reverseOrder"`
}

type historyResponse struct {
	Messages []element.RawMessage `json:"messages"`
}

// GetGroupMsgHistory 从 seq 往更早方向拉一批群消息。
// seq 为空表示从最新开始。返回原始消息，解析交给上游流水线。
func (c *Client) GetGroupMsgHistory(ctx context.Context, groupID, seq string, count int) ([]element.RawMessage, error) {
	var resp historyResponse
	err := c.callInto(ctx, "get_group_msg_history", groupHistoryParams{
		GroupID:      groupID,
		MessageSeq:   seq,
		Count:        count,
		ReverseOrder: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// GetFriendMsgHistory 从 seq 往更早方向拉一批私聊消息。
func (c *Client) GetFriendMsgHistory(ctx context.Context, userID, seq string, count int) ([]element.RawMessage, error) {
	var resp historyResponse
	err := c.callInto(ctx, "get_friend_msg_history", friendHistoryParams{
		UserID:       userID,
		MessageSeq:   seq,
		Count:        count,
		ReverseOrder: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// GroupInfo 群基础信息。
type GroupInfo struct {
	GroupID   int64  `json:"group_id"`
	GroupName string `json:"group_name"`
}

// GetGroupInfo 查询群名，导出落款用。
func (c *Client) GetGroupInfo(ctx context.Context, groupID string) (*GroupInfo, error) {
	var info GroupInfo
	err := c.callInto(ctx, "get_group_info", map[string]any{"group_id": groupID}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// StrangerInfo 用户基础信息。
type StrangerInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark"`
}

// GetStrangerInfo 查询用户昵称。
func (c *Client) GetStrangerInfo(ctx context.Context, userID string) (*StrangerInfo, error) {
	var info StrangerInfo
	err := c.callInto(ctx, "get_stranger_info", map[string]any{"user_id": userID}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}
