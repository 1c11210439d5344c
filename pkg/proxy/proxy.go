// Package proxy defines the node record handled by the conversion pipeline.
// A Proxy describes one upstream server entry parsed from a subscription and
// is the unit that filtering, renaming and export stages operate on.
package proxy

import "fmt"

// Type identifies the protocol of a proxy node.
type Type string

const (
	TypeShadowsocks  Type = "ss"
	TypeShadowsocksR Type = "ssr"
	TypeVMess        Type = "vmess"
	TypeTrojan       Type = "trojan"
	TypeHTTP         Type = "http"
	TypeSOCKS5       Type = "socks5"
	TypeSnell        Type = "snell"
	TypeWireGuard    Type = "wireguard"
	TypeUnknown      Type = "unknown"
)

// Proxy represents a single proxy node descriptor.
// Capability flags (UDP, TFO, SkipCertVerify, TLS13) are tri-state: nil means
// "not specified by the subscription", and export stages fall back to the
// per-request defaults in that case.
type Proxy struct {
	// Type is the node protocol (ss, vmess, trojan, ...)
	Type Type `json:"type"`

	// Remark is the display name of the node
	Remark string `json:"remark"`

	// Server is the hostname or IP address of the node
	Server string `json:"server"`

	// Port is the TCP/UDP port of the node
	Port uint16 `json:"port"`

	// Username is the username for protocols that authenticate with one
	Username string `json:"username,omitempty"`

	// Password is the password or user ID for the node
	Password string `json:"password,omitempty"`

	// EncryptMethod is the cipher used by ss/ssr nodes
	EncryptMethod string `json:"encryptMethod,omitempty"`

	// Plugin and PluginOpts carry the ss plugin configuration
	Plugin     string `json:"plugin,omitempty"`
	PluginOpts string `json:"pluginOpts,omitempty"`

	// Protocol and Obfs carry the ssr obfuscation configuration
	Protocol string `json:"protocol,omitempty"`
	Obfs     string `json:"obfs,omitempty"`

	// TransferProtocol is the stream transport (tcp, ws, grpc, ...)
	TransferProtocol string `json:"transferProtocol,omitempty"`

	// Host and Path configure the transport layer (SNI / ws path)
	Host string `json:"host,omitempty"`
	Path string `json:"path,omitempty"`

	// TLSSecure reports whether the node uses TLS
	TLSSecure bool `json:"tlsSecure"`

	// GroupName is the subscription group the node came from
	GroupName string `json:"group,omitempty"`

	UDP            *bool `json:"udp,omitempty"`
	TFO            *bool `json:"tfo,omitempty"`
	SkipCertVerify *bool `json:"skipCertVerify,omitempty"`
	TLS13          *bool `json:"tls13,omitempty"`
}

// String returns a short human-readable identifier for logging.
func (p *Proxy) String() string {
	return fmt.Sprintf("%s(%s:%d)", p.Type, p.Server, p.Port)
}

// Clone returns a deep copy of the node, including the tri-state flags.
func (p *Proxy) Clone() Proxy {
	out := *p
	out.UDP = cloneBool(p.UDP)
	out.TFO = cloneBool(p.TFO)
	out.SkipCertVerify = cloneBool(p.SkipCertVerify)
	out.TLS13 = cloneBool(p.TLS13)
	return out
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	b := *v
	return &b
}

// ScriptValue marshals the node into the plain map shape user scripts see.
// Field names match the JSON serialization so that a script written against
// an exported subscription works unchanged against the live pipeline.
// Unspecified tri-state flags are surfaced as null.
func (p *Proxy) ScriptValue() map[string]interface{} {
	v := map[string]interface{}{
		"type":      string(p.Type),
		"remark":    p.Remark,
		"server":    p.Server,
		"port":      int(p.Port),
		"tlsSecure": p.TLSSecure,
	}
	if p.Username != "" {
		v["username"] = p.Username
	}
	if p.Password != "" {
		v["password"] = p.Password
	}
	if p.EncryptMethod != "" {
		v["encryptMethod"] = p.EncryptMethod
	}
	if p.Plugin != "" {
		v["plugin"] = p.Plugin
		v["pluginOpts"] = p.PluginOpts
	}
	if p.Protocol != "" {
		v["protocol"] = p.Protocol
	}
	if p.Obfs != "" {
		v["obfs"] = p.Obfs
	}
	if p.TransferProtocol != "" {
		v["transferProtocol"] = p.TransferProtocol
	}
	if p.Host != "" {
		v["host"] = p.Host
	}
	if p.Path != "" {
		v["path"] = p.Path
	}
	if p.GroupName != "" {
		v["group"] = p.GroupName
	}
	v["udp"] = triState(p.UDP)
	v["tfo"] = triState(p.TFO)
	v["skipCertVerify"] = triState(p.SkipCertVerify)
	v["tls13"] = triState(p.TLS13)
	return v
}

func triState(v *bool) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// NodeList is an ordered collection of proxy nodes. Stages mutate it in
// place; relative order of surviving nodes is always preserved.
type NodeList []Proxy

// Remarks returns the display names of all nodes in order.
func (l NodeList) Remarks() []string {
	out := make([]string, len(l))
	for i := range l {
		out[i] = l[i].Remark
	}
	return out
}

// Clone returns a deep copy of the list.
func (l NodeList) Clone() NodeList {
	out := make(NodeList, len(l))
	for i := range l {
		out[i] = l[i].Clone()
	}
	return out
}
