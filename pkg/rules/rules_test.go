package rules

import (
	"testing"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/proxy"
)

func TestApplyRename(t *testing.T) {
	nodes := proxy.NodeList{
		{Remark: "HongKong-01 [Premium]"},
		{Remark: "Japan-02 [Premium]"},
	}

	configs := RegexMatchConfigs{
		{Match: `\s*\[Premium\]`, Replace: ""},
		{Match: `HongKong`, Replace: "HK"},
	}

	ApplyRename(nodes, configs, zap.NewNop())

	if nodes[0].Remark != "HK-01" {
		t.Errorf("got %q", nodes[0].Remark)
	}
	if nodes[1].Remark != "Japan-02" {
		t.Errorf("got %q", nodes[1].Remark)
	}
}

func TestApplyRenameSkipsInvalidRule(t *testing.T) {
	nodes := proxy.NodeList{{Remark: "node-1"}}
	configs := RegexMatchConfigs{
		{Match: `(`, Replace: "x"},
		{Match: `node`, Replace: "srv"},
	}

	ApplyRename(nodes, configs, zap.NewNop())

	if nodes[0].Remark != "srv-1" {
		t.Errorf("valid rules should still apply, got %q", nodes[0].Remark)
	}
}

func TestApplyEmojiFirstMatchWins(t *testing.T) {
	nodes := proxy.NodeList{
		{Remark: "HK 01"},
		{Remark: "JP 02"},
		{Remark: "Unmatched"},
	}
	configs := RegexMatchConfigs{
		{Match: `HK|Hong Kong`, Replace: "\U0001F1ED\U0001F1F0"},
		{Match: `JP|Japan`, Replace: "\U0001F1EF\U0001F1F5"},
	}

	ApplyEmoji(nodes, configs, false, zap.NewNop())

	if nodes[0].Remark != "\U0001F1ED\U0001F1F0 HK 01" {
		t.Errorf("got %q", nodes[0].Remark)
	}
	if nodes[1].Remark != "\U0001F1EF\U0001F1F5 JP 02" {
		t.Errorf("got %q", nodes[1].Remark)
	}
	if nodes[2].Remark != "Unmatched" {
		t.Errorf("unmatched remark should be untouched, got %q", nodes[2].Remark)
	}
}

func TestApplyEmojiRemoveOldPreventsStacking(t *testing.T) {
	nodes := proxy.NodeList{{Remark: "\U0001F1ED\U0001F1F0 HK 01"}}
	configs := RegexMatchConfigs{
		{Match: `HK`, Replace: "\U0001F1ED\U0001F1F0"},
	}

	ApplyEmoji(nodes, configs, true, zap.NewNop())
	ApplyEmoji(nodes, configs, true, zap.NewNop())

	if nodes[0].Remark != "\U0001F1ED\U0001F1F0 HK 01" {
		t.Errorf("repeated exports must not stack emoji, got %q", nodes[0].Remark)
	}
}

func TestTrimLeadingEmoji(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"\U0001F1ED\U0001F1F0 HK", "HK"},
		{"⚡ fast node", "fast node"},
		{"plain name", "plain name"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := trimLeadingEmoji(tt.in); got != tt.want {
			t.Errorf("trimLeadingEmoji(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyRenameNormalizesRemarks(t *testing.T) {
	// "é" as e + combining acute; the rule is written with the composed form.
	nodes := proxy.NodeList{{Remark: "Montréal"}}
	configs := RegexMatchConfigs{
		{Match: `Montréal`, Replace: "MTL"},
	}

	ApplyRename(nodes, configs, zap.NewNop())

	if nodes[0].Remark != "MTL" {
		t.Errorf("decomposed remark should match composed rule, got %q", nodes[0].Remark)
	}
}
