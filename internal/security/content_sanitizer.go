package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は解析レポートの叙述フィールドから表示用HTMLを作る。
// 保存値は加工せず、応答時にコピーへ適用する。
type ContentSanitizerService interface {
	// Sanitize は許可リスト外のタグ・属性を除去した安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// contentSanitizer はbluemondayのポリシーを保持する。ポリシーは生成後に変更しないため並行利用できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はレポート用のポリシーでContentSanitizerServiceを生成する。
//
//   - 許可タグ: p, br, ul, ol, li, blockquote, pre, code, strong, em, h3, h4, table系
//   - aタグ: httpsのhrefのみ。target="_blank"とrel="nofollow noreferrer noopener"を付与
//   - img, script, iframe, style, on*属性, style属性は除去
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h3", "h4",
		"table", "thead", "tbody", "tr", "th", "td",
	)

	// 所見内の参考リンク
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &contentSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。空白のみの結果は空文字に正規化する。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	out := s.policy.Sanitize(rawHTML)
	if strings.TrimSpace(out) == "" {
		return ""
	}
	return out
}
