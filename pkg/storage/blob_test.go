package storage

import (
	"testing"

	"go.uber.org/zap"
)

func TestPayloadPath(t *testing.T) {
	got := PayloadPath("job-123", "result")
	want := "jobs/job-123/result.json"
	if got != want {
		t.Errorf("PayloadPath() = %q, want %q", got, want)
	}
}

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{
			name:  "standard account",
			input: "DefaultEndpointsProtocol=https;AccountName=myacct;AccountKey=c2VjcmV0;EndpointSuffix=core.windows.net",
			want: map[string]string{
				"DefaultEndpointsProtocol": "https",
				"AccountName":              "myacct",
				"AccountKey":               "c2VjcmV0",
				"EndpointSuffix":           "core.windows.net",
			},
		},
		{
			name:  "azurite with explicit endpoint",
			input: "AccountName=devstoreaccount1;AccountKey=a2V5PT0=;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1",
			want: map[string]string{
				"AccountName":  "devstoreaccount1",
				"AccountKey":   "a2V5PT0=",
				"BlobEndpoint": "http://127.0.0.1:10000/devstoreaccount1",
			},
		},
		{
			name:  "trailing semicolon and spacing",
			input: " AccountName=a ;AccountKey=b;",
			want: map[string]string{
				"AccountName": "a",
				"AccountKey":  "b",
			},
		},
		{
			name:  "malformed segments are skipped",
			input: "AccountName=a;garbage;=nokey",
			want: map[string]string{
				"AccountName": "a",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseConnectionString(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("parsed %d params, want %d: %v", len(got), len(tt.want), got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("param %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestNewAzureBlobClientValidation(t *testing.T) {
	logger := zap.NewNop()

	if _, err := NewAzureBlobClient("", "payloads", logger); err == nil {
		t.Error("expected error for empty connection string")
	}
	if _, err := NewAzureBlobClient("AccountName=a;AccountKey=a2V5", "", logger); err == nil {
		t.Error("expected error for empty container name")
	}
	if _, err := NewAzureBlobClient("AccountName=a;AccountKey=a2V5", "payloads", nil); err == nil {
		t.Error("expected error for nil logger")
	}
	if _, err := NewAzureBlobClient("BlobEndpoint=https://example.com", "payloads", logger); err == nil {
		t.Error("expected error when account name and key are missing")
	}
}

func TestExtractBlobPath(t *testing.T) {
	client, err := NewAzureBlobClient(
		"AccountName=devstoreaccount1;AccountKey=a2V5PT0=;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1",
		"payloads", zap.NewNop())
	if err != nil {
		t.Fatalf("NewAzureBlobClient failed: %v", err)
	}

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"bare path", "jobs/abc/result.json", "jobs/abc/result.json", false},
		{"leading slash", "/jobs/abc/result.json", "jobs/abc/result.json", false},
		{"container-relative", "payloads/jobs/abc/result.json", "jobs/abc/result.json", false},
		{"full service URL", "http://127.0.0.1:10000/devstoreaccount1/payloads/jobs/abc/result.json", "jobs/abc/result.json", false},
		{"SAS query stripped", "payloads/jobs/abc/result.json?sv=2024&sig=xyz", "jobs/abc/result.json", false},
		{"percent-encoded path", "payloads/jobs/abc/result%20copy.json", "jobs/abc/result copy.json", false},
		{"foreign host URL", "https://other.blob.core.windows.net/payloads/jobs/abc/result.json", "jobs/abc/result.json", false},
		{"empty reference", "", "", true},
		{"query only", "?sv=2024", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.extractBlobPath(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractBlobPath(%q) failed: %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("extractBlobPath(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}
