package wellknown

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMetadataURL(t *testing.T) {
	tests := []struct {
		resource string
		want     string
	}{
		{"https://api.example", "https://api.example/.well-known/oauth-protected-resource"},
		{"https://api.example/", "https://api.example/.well-known/oauth-protected-resource"},
		{"https://api.example/notes", "https://api.example/.well-known/oauth-protected-resource/notes"},
		{"http://localhost:8080/v1/notes?x=1", "http://localhost:8080/.well-known/oauth-protected-resource/v1/notes"},
	}
	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			got, err := MetadataURL(tt.resource)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("MetadataURL(%q) = %q, want %q", tt.resource, got, tt.want)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	doc := ProtectedResourceMetadata{
		Resource:               "https://api.example/notes",
		AuthorizationServers:   []string{"https://issuer.example"},
		BearerMethodsSupported: []string{BearerMethodHeader, BearerMethodBody},
	}
	rec := httptest.NewRecorder()
	Handler(doc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got ProtectedResourceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}
