package export

import (
	"bufio"
	"encoding/json"
	"os"

	"qce/internal/message"
	"qce/internal/spool"
)

// jsonWriter 流式写一个 JSON 文档：{meta, messages: [...], stats}。
// 消息逐条编码，不在内存里攒整个数组。
type jsonWriter struct {
	f     *os.File
	w     *bufio.Writer
	first bool
}

func newJSONWriter(path string) (*jsonWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &jsonWriter{f: f, w: bufio.NewWriter(f), first: true}, nil
}

func (j *jsonWriter) Begin(meta Meta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = j.w.WriteString(`{"meta":` + string(metaJSON) + `,"messages":[`)
	return err
}

func (j *jsonWriter) Write(msg *message.CleanMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if !j.first {
		if err := j.w.WriteByte(','); err != nil {
			return err
		}
	}
	j.first = false
	_, err = j.w.Write(data)
	return err
}

func (j *jsonWriter) End(stats *spool.Stats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if _, err := j.w.WriteString(`],"stats":` + string(statsJSON) + "}\n"); err != nil {
		return err
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.f.Close()
}
