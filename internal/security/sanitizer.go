package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTML文字列を安全な形に変換する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// policySanitizer はbluemondayのポリシーを保持するSanitizer。
// bluemonday.Policyは構築後の並行利用が安全。
type policySanitizer struct {
	policy *bluemonday.Policy
}

// NewNotesSanitizer は診療記録の所見向けのSanitizerを生成する。
// 段落、改行、リスト、強調、表のみを許可し、リンクや画像、スクリプトは除去する。
func NewNotesSanitizer() *policySanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em", "b", "i", "u",
		"h3", "h4", "blockquote", "pre", "code",
		"table", "thead", "tbody", "tr", "th", "td",
	)
	return &policySanitizer{policy: p}
}

// NewPlainTextSanitizer は全てのタグを除去するSanitizerを生成する。
// 掲示板のタイトルと要約に使用する。
func NewPlainTextSanitizer() *policySanitizer {
	return &policySanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はポリシーに従ってHTMLをサニタイズする。
func (s *policySanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return s.policy.Sanitize(raw)
}
