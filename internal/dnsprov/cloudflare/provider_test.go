package cloudflare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"domainflow/internal/provider"
)

func envelope(result interface{}) string {
	data, _ := json.Marshal(map[string]interface{}{
		"success": true,
		"errors":  []interface{}{},
		"result":  result,
	})
	return string(data)
}

// A zone created once must be returned, not recreated, on the second
// EnsureZone call for the same domain.
func TestEnsureZone_Idempotent(t *testing.T) {
	var creates int32
	var zoneExists atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/zones":
			if zoneExists.Load() {
				fmt.Fprint(w, envelope([]map[string]interface{}{
					{"id": "zone-1", "name": "foo.xyz", "name_servers": []string{"ns1.cf.com", "ns2.cf.com"}},
				}))
			} else {
				fmt.Fprint(w, envelope([]interface{}{}))
			}
		case r.Method == http.MethodPost && r.URL.Path == "/zones":
			atomic.AddInt32(&creates, 1)
			zoneExists.Store(true)
			fmt.Fprint(w, envelope(map[string]interface{}{
				"id": "zone-1", "name": "foo.xyz", "name_servers": []string{"ns1.cf.com", "ns2.cf.com"},
			}))
		default:
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	p := NewWithBaseURL("ops@example.com", "token", srv.URL)

	first, err := p.EnsureZone(context.Background(), "foo.xyz")
	if err != nil {
		t.Fatalf("First EnsureZone failed: %v", err)
	}
	second, err := p.EnsureZone(context.Background(), "foo.xyz")
	if err != nil {
		t.Fatalf("Second EnsureZone failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Zone ids differ: %s vs %s", first.ID, second.ID)
	}
	if creates != 1 {
		t.Errorf("Expected exactly one zone create, got %d", creates)
	}
	if len(second.Nameservers) != 2 {
		t.Errorf("Expected 2 nameservers, got %v", second.Nameservers)
	}
}

func TestEnsureCNAME_NoopWhenPresent(t *testing.T) {
	var writes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, envelope([]map[string]interface{}{
				{"id": "rec-1", "type": "CNAME", "name": "foo.xyz", "content": "edge.personas.app", "proxied": true},
			}))
			return
		}
		atomic.AddInt32(&writes, 1)
		fmt.Fprint(w, envelope(map[string]interface{}{"id": "rec-1"}))
	}))
	defer srv.Close()

	p := NewWithBaseURL("ops@example.com", "token", srv.URL)
	if err := p.EnsureCNAME(context.Background(), "zone-1", "foo.xyz", "edge.personas.app"); err != nil {
		t.Fatalf("EnsureCNAME failed: %v", err)
	}
	if writes != 0 {
		t.Errorf("Expected no record writes for an existing equivalent record, got %d", writes)
	}
}

func TestEnsureCNAME_CreatesWhenMissing(t *testing.T) {
	var creates int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, envelope([]interface{}{}))
			return
		}
		if r.Method == http.MethodPost {
			atomic.AddInt32(&creates, 1)
			var payload map[string]interface{}
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["type"] != "CNAME" || payload["content"] != "edge.personas.app" {
				t.Errorf("Unexpected record payload: %v", payload)
			}
			fmt.Fprint(w, envelope(map[string]interface{}{"id": "rec-9"}))
			return
		}
		t.Errorf("Unexpected method %s", r.Method)
	}))
	defer srv.Close()

	p := NewWithBaseURL("ops@example.com", "token", srv.URL)
	if err := p.EnsureCNAME(context.Background(), "zone-1", "foo.xyz", "edge.personas.app"); err != nil {
		t.Fatalf("EnsureCNAME failed: %v", err)
	}
	if creates != 1 {
		t.Errorf("Expected one create, got %d", creates)
	}
}

func TestCheckSSLStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		expected string
	}{
		{"all active", []string{"active"}, "active"},
		{"pending", []string{"pending_validation"}, "provisioning"},
		{"mixed pending wins", []string{"active", "pending_issuance"}, "provisioning"},
		{"failed cert", []string{"validation_timed_out"}, "error"},
		{"no certs yet", nil, "provisioning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var result []map[string]string
				for _, s := range tt.statuses {
					result = append(result, map[string]string{"certificate_status": s})
				}
				fmt.Fprint(w, envelope(result))
			}))
			defer srv.Close()

			p := NewWithBaseURL("ops@example.com", "token", srv.URL)
			state, err := p.CheckSSLStatus(context.Background(), "zone-1", "foo.xyz")
			if err != nil {
				t.Fatalf("CheckSSLStatus failed: %v", err)
			}
			if string(state) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, state)
			}
		})
	}
}

func TestDo_ClassifiesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"errors":[{"code":1049,"message":"invalid zone name"}],"result":null}`)
	}))
	defer srv.Close()

	p := NewWithBaseURL("ops@example.com", "token", srv.URL)
	_, err := p.EnsureZone(context.Background(), "not a domain")
	if err == nil {
		t.Fatal("Expected error")
	}
	if provider.IsTransient(err) {
		t.Errorf("Code 1049 should be permanent, got %v", err)
	}
}
