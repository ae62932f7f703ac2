package element

import "time"

// RawSender 协议侧发送人。
type RawSender struct {
	UID      string `json:"uid,omitempty"`      // 内部 uid（字符串）
	UIN      int64  `json:"uin,omitempty"`      // QQ 号
	Nickname string `json:"nick,omitempty"`     // 昵称
	Card     string `json:"cardName,omitempty"` // 群名片
	Remark   string `json:"remark,omitempty"`   // 好友备注
}

// RawMessage 协议侧消息，仅在解析阶段存在，解析后即丢弃。
type RawMessage struct {
	MsgID    FlexInt64    `json:"msgId"`
	MsgSeq   FlexInt64    `json:"msgSeq"`
	MsgTime  FlexInt64    `json:"msgTime"` // Unix 秒
	PeerUID  string       `json:"peerUid,omitempty"`
	Sender   RawSender    `json:"sender"`
	Elements []RawElement `json:"elements"`
	Recalled bool         `json:"recalled,omitempty"`
}

// Time returns the message timestamp.
func (m *RawMessage) Time() time.Time {
	return time.Unix(m.MsgTime.Int64(), 0)
}
