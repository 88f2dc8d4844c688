package backfill

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// HTTPDoer はHTTPリクエストの実行インターフェース。*http.Clientが満たす。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// URLValidator はSSRF検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Dimensions は画像のピクセルサイズ。
type Dimensions struct {
	Width  int32
	Height int32
}

// Prober は画像URLを取得し、ヘッダーから画像サイズを読み取る。
// ピクセルデータはデコードしない。
type Prober struct {
	client  HTTPDoer
	guard   URLValidator
	maxSize int64
}

// NewProber はProberを生成する。clientにはSSRF対策済みのクライアントを渡すこと。
func NewProber(client HTTPDoer, guard URLValidator, maxSize int64) *Prober {
	return &Prober{
		client:  client,
		guard:   guard,
		maxSize: maxSize,
	}
}

// Probe はrawURLの画像サイズを返す。
// 再試行しても解消しない失敗はErrPermanentでラップして返す。
func (p *Prober) Probe(ctx context.Context, rawURL string) (Dimensions, error) {
	if err := p.guard.ValidateURL(rawURL); err != nil {
		return Dimensions{}, permanentf("unsafe url: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Dimensions{}, permanentf("invalid request: %v", err)
	}
	req.Header.Set("User-Agent", "forensiclab-backfill/1.0")
	req.Header.Set("Accept", "image/jpeg, image/png, image/gif, image/webp, image/bmp, image/tiff")

	resp, err := p.client.Do(req)
	if err != nil {
		return Dimensions{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultGiveUp:
		return Dimensions{}, permanentf("http status %d", resp.StatusCode)
	default:
		return Dimensions{}, fmt.Errorf("http status %d", resp.StatusCode)
	}

	cfg, format, err := image.DecodeConfig(io.LimitReader(resp.Body, p.maxSize))
	if err != nil {
		return Dimensions{}, permanentf("decode image header: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > math.MaxInt32 || cfg.Height > math.MaxInt32 {
		return Dimensions{}, permanentf("unusable %s dimensions %dx%d", format, cfg.Width, cfg.Height)
	}

	return Dimensions{Width: int32(cfg.Width), Height: int32(cfg.Height)}, nil
}
