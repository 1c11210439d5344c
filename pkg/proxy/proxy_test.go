package proxy

import (
	"encoding/json"
	"testing"
)

func TestScriptValueShape(t *testing.T) {
	udp := true
	p := Proxy{
		Type:           TypeShadowsocks,
		Remark:         "HK 01",
		Server:         "hk.example.com",
		Port:           8388,
		Password:       "secret",
		EncryptMethod:  "aes-256-gcm",
		Plugin:         "obfs-local",
		PluginOpts:     "obfs=http",
		UDP:            &udp,
		SkipCertVerify: nil,
	}

	v := p.ScriptValue()

	if v["type"] != "ss" {
		t.Errorf("type: got %v", v["type"])
	}
	if v["port"] != 8388 {
		t.Errorf("port: got %v", v["port"])
	}
	if v["udp"] != true {
		t.Errorf("udp: got %v", v["udp"])
	}
	if v["skipCertVerify"] != nil {
		t.Errorf("unset tri-state flag should be null, got %v", v["skipCertVerify"])
	}
	if v["plugin"] != "obfs-local" || v["pluginOpts"] != "obfs=http" {
		t.Errorf("plugin fields: got %v / %v", v["plugin"], v["pluginOpts"])
	}
	if _, present := v["username"]; present {
		t.Error("empty optional fields should be omitted")
	}
}

func TestScriptValueMatchesJSONFieldNames(t *testing.T) {
	p := Proxy{Type: TypeVMess, Remark: "n", Server: "s", Port: 443, Host: "cdn.example.com", Path: "/ws"}

	raw, err := json.Marshal(&p)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fromJSON map[string]interface{}
	if err := json.Unmarshal(raw, &fromJSON); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	sv := p.ScriptValue()
	for _, key := range []string{"type", "remark", "server", "port", "host", "path"} {
		if _, ok := fromJSON[key]; !ok {
			t.Errorf("JSON serialization missing %q", key)
		}
		if _, ok := sv[key]; !ok {
			t.Errorf("script value missing %q", key)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	tfo := false
	p := Proxy{Remark: "orig", TFO: &tfo}

	c := p.Clone()
	*c.TFO = true

	if *p.TFO {
		t.Error("mutating the clone's flags must not affect the original")
	}
}

func TestNodeListRemarks(t *testing.T) {
	l := NodeList{{Remark: "a"}, {Remark: "b"}}
	got := l.Remarks()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected remarks %v", got)
	}
}

func TestNodeListCloneIndependent(t *testing.T) {
	udp := true
	l := NodeList{{Remark: "a", UDP: &udp}}
	c := l.Clone()

	c[0].Remark = "changed"
	*c[0].UDP = false

	if l[0].Remark != "a" || !*l[0].UDP {
		t.Error("clone must not share state with the source list")
	}
}
