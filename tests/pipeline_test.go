package tests

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/message"
	"github.com/wehubfusion/Daedalus/pkg/proxy"
	"github.com/wehubfusion/Daedalus/pkg/rules"
	"github.com/wehubfusion/Daedalus/pkg/runner"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

func subscriptionNodes() proxy.NodeList {
	return proxy.NodeList{
		{Type: proxy.TypeShadowsocks, Remark: "[Old] HK Node", Server: "hk1.example.com", Port: 8388},
		{Type: proxy.TypeVMess, Remark: "JP Tokyo", Server: "jp1.example.com", Port: 443},
		{Type: proxy.TypeTrojan, Remark: "US West", Server: "us1.example.com", Port: 0},
		{Type: proxy.TypeShadowsocks, Remark: "[Old] SG Node", Server: "sg1.example.com", Port: 8388},
	}
}

// Runs the export stages the way a conversion request does, without NATS
// or blob storage: filter script, rename rules, then a sort script, all
// through one ExtraSettings value and its shared runtime.
func TestSettingsFilterRulesSortFlow(t *testing.T) {
	logger := zap.NewNop()
	nodes := subscriptionNodes()

	es := settings.NewExtraSettings(logger)
	defer es.Close()

	err := es.EvalFilterFunction(&nodes, `function filter(node) { return node.port > 0; }`)
	if err != nil {
		t.Fatalf("filter stage failed: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes after filtering, got %v", nodes.Remarks())
	}

	rules.ApplyRename(nodes, rules.RegexMatchConfigs{
		{Match: `^\[Old\]\s*`, Replace: ""},
	}, logger)

	err = es.EvalSortFunction(&nodes, `function compare(a, b) { return a.remark < b.remark; }`)
	if err != nil {
		t.Fatalf("sort stage failed: %v", err)
	}

	want := []string{"HK Node", "JP Tokyo", "SG Node"}
	got := nodes.Remarks()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("node %d: expected %q, got %q (full: %v)", i, want[i], got[i], got)
		}
	}
}

// Same flow through the processor, the way the runner drives it for a
// pulled job.
func TestProcessorEndToEnd(t *testing.T) {
	processor := runner.NewConversionProcessor(zap.NewNop(), nil)

	job := message.NewConversionJob("clash", subscriptionNodes())
	job.Options = message.Options{
		FilterScript: `function filter(node) { return node.port > 0; }`,
		SortScript:   `function compare(a, b) { return a.remark < b.remark; }`,
		SortFlag:     true,
		RenameRules: rules.RegexMatchConfigs{
			{Match: `^\[Old\]\s*`, Replace: ""},
		},
	}

	result, err := processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.Status != "success" {
		t.Fatalf("expected success status, got %q", result.Status)
	}
	if result.Kept != 3 || result.Dropped != 1 {
		t.Errorf("kept/dropped = %d/%d, want 3/1", result.Kept, result.Dropped)
	}

	want := []string{"HK Node", "JP Tokyo", "SG Node"}
	got := result.Nodes.Remarks()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("node %d: expected %q, got %q (full: %v)", i, want[i], got[i], got)
		}
	}
}
