// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はアイテム名やメッセージ本文などのユーザー入力から
// HTMLタグを全て取り除き、平文として保存できる形に正規化する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストを平文に正規化する。
// bluemondayのポリシーはスレッドセーフなので、1インスタンスを共有してよい。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer は全てのタグを除去するStrictPolicyでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグ・script・style要素を除去し、前後の空白を取り除いた平文を返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。
// 出力はJSONで返すため、表示時のエスケープはクライアントの責務とする。
func (s *TextSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
