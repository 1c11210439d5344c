package settings

import (
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/proxy"
	"github.com/wehubfusion/Daedalus/pkg/rules"
	"github.com/wehubfusion/Daedalus/pkg/scriptfilter"
)

// ExtraSettings carries the per-request options of one subscription export.
// A value is created per conversion request, mutated while options are
// parsed, consulted by the pipeline stages, and discarded with the request.
//
// The embedded scripting context is created lazily on first script use and
// reused for the life of the value. It is exclusively owned: sharing one
// ExtraSettings between concurrent jobs is a caller error. The top-level
// owner should defer Close.
type ExtraSettings struct {
	// EnableRuleGenerator enables the rule generator
	EnableRuleGenerator bool

	// OverwriteOriginalRules replaces the target's original rules
	OverwriteOriginalRules bool

	// RenameArray is the ordered rename rule table
	RenameArray rules.RegexMatchConfigs

	// EmojiArray is the ordered emoji rule table
	EmojiArray rules.RegexMatchConfigs

	// AddEmoji prepends emoji to node remarks per EmojiArray
	AddEmoji bool

	// RemoveEmoji strips existing emoji prefixes before adding new ones
	RemoveEmoji bool

	// AppendProxyType appends the protocol name to node remarks
	AppendProxyType bool

	// Nodelist outputs a bare node list instead of a full config
	Nodelist bool

	// SortFlag sorts nodes before export
	SortFlag bool

	// FilterDeprecated drops nodes using deprecated protocols
	FilterDeprecated bool

	// ClashNewFieldName uses the modern Clash field names
	ClashNewFieldName bool

	// ClashScript emits the script-mode Clash config
	ClashScript bool

	// SurgeSSRPath is the path to the Surge SSR helper binary
	SurgeSSRPath string

	// ManagedConfigPrefix is the URL prefix for managed configs
	ManagedConfigPrefix string

	// QuanXDevID is the QuantumultX device ID
	QuanXDevID string

	// UDP, TFO, SkipCertVerify and TLS13 override the corresponding node
	// capability flags for every node; nil leaves node values untouched.
	UDP            *bool
	TFO            *bool
	SkipCertVerify *bool
	TLS13          *bool

	// ClashClassicalRuleset emits classical rule providers for Clash
	ClashClassicalRuleset bool

	// SortScript is the script source used when SortFlag is set; when empty
	// nodes sort by remark.
	SortScript string

	// ClashProxiesStyle is the YAML style for Clash proxy lists
	ClashProxiesStyle string

	// ClashProxyGroupsStyle is the YAML style for Clash proxy groups
	ClashProxyGroupsStyle string

	// Authorized marks the request as coming from an authenticated caller
	Authorized bool

	logger *zap.Logger
	js     *scriptfilter.Context
}

// NewExtraSettings returns per-request settings derived from the current
// process-wide snapshot. Every field gets a deterministic default; the
// Clash style fields fall back to "flow" when the snapshot leaves them
// empty.
func NewExtraSettings(logger *zap.Logger) *ExtraSettings {
	if logger == nil {
		logger = zap.NewNop()
	}
	global := Current()

	es := &ExtraSettings{
		EnableRuleGenerator:    global.EnableRuleGen,
		OverwriteOriginalRules: global.OverwriteOriginalRules,
		ClashNewFieldName:      true,
		SurgeSSRPath:           global.SurgeSSRPath,
		ClashProxiesStyle:      global.ClashProxiesStyle,
		ClashProxyGroupsStyle:  global.ClashProxyGroupsStyle,
		logger:                 logger,
	}
	if es.ClashProxiesStyle == "" {
		es.ClashProxiesStyle = "flow"
	}
	if es.ClashProxyGroupsStyle == "" {
		es.ClashProxyGroupsStyle = "flow"
	}
	return es
}

// ScriptContext returns the scripting context for this request, creating it
// on first use. The same context is returned for the life of the value; it
// is never torn down and recreated, even after a script failure.
func (es *ExtraSettings) ScriptContext() (*scriptfilter.Context, error) {
	if es.js == nil {
		ctx, err := scriptfilter.NewContext(es.logger)
		if err != nil {
			return nil, err
		}
		es.js = ctx
	}
	return es.js, nil
}

// EvalFilterFunction filters nodes in place through the script's global
// filter function. See scriptfilter.Context.ApplyFilter for the retention
// and failure semantics.
func (es *ExtraSettings) EvalFilterFunction(nodes *proxy.NodeList, source string) error {
	ctx, err := es.ScriptContext()
	if err != nil {
		return err
	}
	return ctx.ApplyFilter(nodes, source)
}

// EvalSortFunction orders nodes in place through the script's global
// compare function.
func (es *ExtraSettings) EvalSortFunction(nodes *proxy.NodeList, source string) error {
	ctx, err := es.ScriptContext()
	if err != nil {
		return err
	}
	return ctx.ApplySort(nodes, source)
}

// Close releases the scripting context. Safe to call on a value that never
// used scripts, and safe to defer immediately after construction.
func (es *ExtraSettings) Close() {
	es.js = nil
}
