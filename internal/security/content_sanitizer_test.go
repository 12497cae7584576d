package security

import "testing"

func TestSanitizeText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "平文はそのまま", input: "Fresh bread", want: "Fresh bread"},
		{name: "空文字列", input: "", want: ""},
		{name: "タグを除去", input: "<b>Bread</b>", want: "Bread"},
		{name: "scriptは中身ごと除去", input: "Milk<script>alert(1)</script>", want: "Milk"},
		{name: "イベント属性ごと除去", input: `<img src=x onerror="alert(1)">Eggs`, want: "Eggs"},
		{name: "記号は実体参照にしない", input: "Bread & Butter", want: "Bread & Butter"},
		{name: "引用符を保持", input: `5 "large" apples`, want: `5 "large" apples`},
		{name: "前後の空白を除去", input: "  <p> Rice </p>  ", want: "Rice"},
		{name: "日本語", input: "<em>おにぎり</em> 10個", want: "おにぎり 10個"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// 同一入力に対して常に同一出力を返す
func TestSanitizeText_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()
	input := "<div>Soup &amp; <i>salad</i></div>"

	first := sanitizer.SanitizeText(input)
	second := sanitizer.SanitizeText(first)
	if first != "Soup & salad" || second != first {
		t.Errorf("first=%q second=%q", first, second)
	}
}
