package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"qce/internal/download"
	"qce/internal/message"
)

// MediaFetcher 把资源落到本地的取数原语。带 URL 的资源直接 HTTP
// 拉取；只有宿主句柄的（群文件等）经 get_file 走 WebSocket 通道。
// 失败以可重试标注透出，分类交给编排器。
type MediaFetcher struct {
	client *Client
	http   *http.Client
	log    zerolog.Logger
}

// NewMediaFetcher creates a fetcher backed by the given host client.
func NewMediaFetcher(c *Client, log zerolog.Logger) *MediaFetcher {
	return &MediaFetcher{
		client: c,
		http: &http.Client{
			Timeout: 2 * time.Minute,
		},
		log: log,
	}
}

// DownloadMedia implements download.Fetcher.
func (f *MediaFetcher) DownloadMedia(ctx context.Context, res *message.ResourceInfo, destPath string) error {
	switch {
	case strings.HasPrefix(res.URL, "http://"), strings.HasPrefix(res.URL, "https://"):
		return f.fetchHTTP(ctx, res.URL, destPath)
	case res.FileID != "":
		return f.fetchFile(ctx, res.FileID, destPath)
	default:
		// 既无 URL 也无宿主句柄，重试不会变好
		return download.NonRetriable(fmt.Errorf("resource %q has no retrievable source", res.Filename))
	}
}

// fetchHTTP 流式拉取到临时文件再改名，目的路径要么完整要么不存在。
func (f *MediaFetcher) fetchHTTP(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return download.NonRetriable(fmt.Errorf("build request: %w", err))
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return err // 连接/超时错误由编排器按网络形态分类
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusGone:
		return download.NonRetriable(fmt.Errorf("GET %s: %s", rawURL, resp.Status))
	default:
		// 429/5xx 等交给重试预算
		return download.Retriable(fmt.Errorf("GET %s: %s", rawURL, resp.Status))
	}

	return writeAtomic(destPath, resp.Body)
}

// getFileResult get_file 应答。宿主本地部署给绝对路径，
// 远端部署退化为 base64 或下载直链。
type getFileResult struct {
	File   string `json:"file"`
	URL    string `json:"url"`
	Base64 string `json:"base64"`
}

func (f *MediaFetcher) fetchFile(ctx context.Context, fileID, destPath string) error {
	var result getFileResult
	err := f.client.callInto(ctx, "get_file", map[string]any{"file_id": fileID}, &result)
	if err != nil {
		var actionErr *actionError
		if errors.As(err, &actionErr) {
			// 宿主明确拒绝（文件过期/不存在）属确定性失败
			return download.NonRetriable(err)
		}
		return err
	}

	switch {
	case result.Base64 != "":
		data, err := base64.StdEncoding.DecodeString(result.Base64)
		if err != nil {
			return download.NonRetriable(fmt.Errorf("decode get_file payload: %w", err))
		}
		return writeAtomic(destPath, bytes.NewReader(data))
	case result.File != "":
		src, err := os.Open(result.File)
		if err != nil {
			return download.Retriable(fmt.Errorf("open host file: %w", err))
		}
		defer src.Close()
		return writeAtomic(destPath, src)
	case strings.HasPrefix(result.URL, "http"):
		return f.fetchHTTP(ctx, result.URL, destPath)
	default:
		return download.NonRetriable(fmt.Errorf("get_file %s: empty result", fileID))
	}
}

// writeAtomic 先写同目录临时文件再 rename。
func writeAtomic(destPath string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".qce-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return download.Retriable(fmt.Errorf("write %s: %w", destPath, err))
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), destPath)
}
