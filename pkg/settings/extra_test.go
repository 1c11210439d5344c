package settings

import (
	"testing"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/proxy"
)

func withSnapshot(t *testing.T, s Settings) {
	t.Helper()
	prev := Current()
	Replace(s)
	t.Cleanup(func() { Replace(prev) })
}

func TestNewExtraSettingsDefaults(t *testing.T) {
	withSnapshot(t, Settings{
		EnableRuleGen:          true,
		OverwriteOriginalRules: true,
		SurgeSSRPath:           "/usr/local/bin/ssr-local",
		ClashProxiesStyle:      "block",
	})

	es := NewExtraSettings(zap.NewNop())
	defer es.Close()

	if !es.EnableRuleGenerator {
		t.Error("EnableRuleGenerator should come from the snapshot")
	}
	if !es.OverwriteOriginalRules {
		t.Error("OverwriteOriginalRules should come from the snapshot")
	}
	if es.SurgeSSRPath != "/usr/local/bin/ssr-local" {
		t.Errorf("unexpected SurgeSSRPath %q", es.SurgeSSRPath)
	}
	if es.ClashProxiesStyle != "block" {
		t.Errorf("ClashProxiesStyle should keep the snapshot value, got %q", es.ClashProxiesStyle)
	}
	if es.ClashProxyGroupsStyle != "flow" {
		t.Errorf("empty snapshot style should fall back to flow, got %q", es.ClashProxyGroupsStyle)
	}
	if !es.ClashNewFieldName {
		t.Error("ClashNewFieldName should default to true")
	}
	if es.AddEmoji || es.SortFlag || es.Nodelist || es.Authorized {
		t.Error("boolean options should default to false")
	}
	if es.UDP != nil || es.TFO != nil || es.SkipCertVerify != nil || es.TLS13 != nil {
		t.Error("capability overrides should default to unset")
	}
	if es.SortScript != "" || es.ManagedConfigPrefix != "" || es.QuanXDevID != "" {
		t.Error("string options should default to empty")
	}
}

func TestScriptContextIsLazyAndReused(t *testing.T) {
	es := NewExtraSettings(zap.NewNop())
	defer es.Close()

	if es.js != nil {
		t.Fatal("scripting context should not exist before first use")
	}

	first, err := es.ScriptContext()
	if err != nil {
		t.Fatalf("ScriptContext failed: %v", err)
	}
	second, err := es.ScriptContext()
	if err != nil {
		t.Fatalf("second ScriptContext failed: %v", err)
	}
	if first != second {
		t.Fatal("scripting context must be reused for the life of the settings value")
	}
}

func TestEvalFilterFunctionReusesContextAcrossCalls(t *testing.T) {
	es := NewExtraSettings(zap.NewNop())
	defer es.Close()

	nodes := proxy.NodeList{
		{Remark: "A", Server: "a", Port: 80},
		{Remark: "B", Server: "b", Port: 0},
	}

	if err := es.EvalFilterFunction(&nodes, `function filter(n) { return n.port > 0; }`); err != nil {
		t.Fatalf("first filter failed: %v", err)
	}
	ctx, _ := es.ScriptContext()
	vm := ctx.Runtime()

	if err := es.EvalFilterFunction(&nodes, `function filter(n) { return true; }`); err != nil {
		t.Fatalf("second filter failed: %v", err)
	}
	ctx2, _ := es.ScriptContext()
	if ctx2.Runtime() != vm {
		t.Fatal("runtime was reallocated between filter calls")
	}

	if len(nodes) != 1 || nodes[0].Remark != "A" {
		t.Fatalf("unexpected survivors: %v", nodes.Remarks())
	}
}

func TestEvalSortFunction(t *testing.T) {
	es := NewExtraSettings(zap.NewNop())
	defer es.Close()

	nodes := proxy.NodeList{
		{Remark: "C", Port: 443},
		{Remark: "A", Port: 80},
		{Remark: "B", Port: 8080},
	}

	if err := es.EvalSortFunction(&nodes, `function compare(a, b) { return a.port < b.port; }`); err != nil {
		t.Fatalf("EvalSortFunction failed: %v", err)
	}
	got := nodes.Remarks()
	want := []string{"A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v", got)
		}
	}
}

func TestCloseReleasesContext(t *testing.T) {
	es := NewExtraSettings(zap.NewNop())

	if _, err := es.ScriptContext(); err != nil {
		t.Fatalf("ScriptContext failed: %v", err)
	}
	es.Close()
	if es.js != nil {
		t.Fatal("Close should release the scripting context")
	}
}

func TestSnapshotReplaceDoesNotAffectLiveRequests(t *testing.T) {
	withSnapshot(t, Settings{SurgeSSRPath: "/opt/a"})

	es := NewExtraSettings(zap.NewNop())
	defer es.Close()

	Replace(Settings{SurgeSSRPath: "/opt/b"})
	if es.SurgeSSRPath != "/opt/a" {
		t.Error("in-flight requests should keep the defaults captured at construction")
	}
}
