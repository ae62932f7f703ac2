package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"qce/internal/element"
)

// Assembler 把一条协议消息装配成规范消息。
// 单元素解析失败在元素粒度捕获并降级为诊断占位；整条装配失败
// 产出保留原 id/seq/sender 的 error 消息，时间线位置不丢失。
type Assembler struct {
	parser *element.Parser
	log    zerolog.Logger
}

// NewAssembler creates an assembler backed by the given element parser.
func NewAssembler(parser *element.Parser, log zerolog.Logger) *Assembler {
	return &Assembler{parser: parser, log: log}
}

// Assemble 装配规范消息，从不返回错误。
func (a *Assembler) Assemble(raw *element.RawMessage) (out *CleanMessage) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().
				Int64("msg_id", raw.MsgID.Int64()).
				Interface("panic", r).
				Msg("message assembly failed, emitting error record")
			out = a.errorMessage(raw, fmt.Sprintf("%v", r))
		}
	}()

	msg := &CleanMessage{
		ID:        raw.MsgID.Int64(),
		Seq:       raw.MsgSeq.Int64(),
		Timestamp: raw.MsgTime.Int64(),
		Sender:    senderOf(&raw.Sender),
		Kind:      KindNormal,
		Recalled:  raw.Recalled,
	}

	var text, html strings.Builder
	systemOnly := len(raw.Elements) > 0

	for i := range raw.Elements {
		pe := a.parseOne(raw, i)
		msg.Content.Elements = append(msg.Content.Elements, pe)

		// 元素自带方括号标记，按元素顺序直拼，不注入分隔符
		text.WriteString(pe.PlainText())
		html.WriteString(pe.HTML())

		if pe.Kind != element.KindSystem {
			systemOnly = false
		}
	}

	msg.Content.Text = text.String()
	msg.Content.HTML = html.String()
	msg.Content.Resources = ExtractResources(msg)
	if systemOnly {
		msg.Kind = KindSystem
		msg.System = true
	}
	return msg
}

// parseOne 在元素粒度兜底：解析器本身已是全函数，这里再保一层，
// 单个元素出问题也不拖垮整条消息。
func (a *Assembler) parseOne(raw *element.RawMessage, i int) (pe element.ParsedElement) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn().
				Int64("msg_id", raw.MsgID.Int64()).
				Int("element", i).
				Interface("panic", r).
				Msg("element parse failed, substituting placeholder")
			pe = element.ParsedElement{
				Kind: element.KindSystem,
				Data: &element.SystemData{SubType: -1, Text: fmt.Sprintf("[元素%d解析失败]", i)},
			}
		}
	}()
	return a.parser.Parse(raw.Elements[i])
}

// ErrorRecord 合成一条 error 消息，供上游在批处理被取消等场景下
// 为槽位补占位，保持 1:1 不丢条目。
func (a *Assembler) ErrorRecord(raw *element.RawMessage, reason string) *CleanMessage {
	return a.errorMessage(raw, reason)
}

// errorMessage 合成装配失败占位，保留时间线身份。
func (a *Assembler) errorMessage(raw *element.RawMessage, reason string) *CleanMessage {
	text := fmt.Sprintf("[消息装配失败: %s]", reason)
	pe := element.ParsedElement{
		Kind: element.KindSystem,
		Data: &element.SystemData{SubType: -1, Text: text},
	}
	return &CleanMessage{
		ID:        raw.MsgID.Int64(),
		Seq:       raw.MsgSeq.Int64(),
		Timestamp: raw.MsgTime.Int64(),
		Sender:    senderOf(&raw.Sender),
		Kind:      KindError,
		System:    true,
		Content: Content{
			Text:     text,
			HTML:     pe.HTML(),
			Elements: []element.ParsedElement{pe},
		},
	}
}

// senderOf 发送人显示名级联：群名片 → 好友备注 → 昵称 → QQ号 → uid → 未知用户。
func senderOf(s *element.RawSender) Sender {
	out := Sender{UID: s.UID, UIN: s.UIN, Remark: s.Remark}
	switch {
	case s.Card != "":
		out.Name = s.Card
	case s.Remark != "":
		out.Name = s.Remark
	case s.Nickname != "":
		out.Name = s.Nickname
	case s.UIN != 0:
		out.Name = strconv.FormatInt(s.UIN, 10)
	case s.UID != "":
		out.Name = s.UID
	default:
		out.Name = "未知用户"
	}
	return out
}

// ExtractResources 对一条已装配消息的元素做纯过滤映射，只为媒体
// kind 产出资源描述，保持元素顺序。每条消息装配时调用一次，
// 结果汇入编排器的全局任务集。
func ExtractResources(msg *CleanMessage) []*ResourceInfo {
	var out []*ResourceInfo
	for i := range msg.Content.Elements {
		pe := &msg.Content.Elements[i]
		m := pe.Media()
		if m == nil {
			continue
		}
		out = append(out, &ResourceInfo{
			Kind:     pe.Kind,
			Filename: m.Filename,
			Size:     m.Size,
			URL:      m.URL,
			Width:    m.Width,
			Height:   m.Height,
			Duration: m.Duration,
			MD5:      m.MD5,
			FileID:   m.FileID,
		})
	}
	return out
}
