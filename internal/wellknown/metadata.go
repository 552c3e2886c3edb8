// Package wellknown serves the RFC 9728 OAuth 2.0 protected resource
// metadata document.
package wellknown

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Path is the well-known suffix defined by RFC 9728 §3.
const Path = "/.well-known/oauth-protected-resource"

// Bearer token presentation methods (RFC 9728 §2, bearer_methods_supported).
const (
	BearerMethodHeader = "header"
	BearerMethodBody   = "body"
	BearerMethodQuery  = "query"
)

type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
	ResourcePolicyURI      string   `json:"resource_policy_uri,omitempty"`
	ResourceTosURI         string   `json:"resource_tos_uri,omitempty"`
}

// MetadataURL returns where the metadata for resource is published: the
// well-known suffix is inserted between the host and any path component, so
// https://api.example/notes maps to
// https://api.example/.well-known/oauth-protected-resource/notes.
func MetadataURL(resource string) (string, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return "", err
	}
	p := strings.TrimSuffix(u.Path, "/")
	u.Path = Path + p
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Handler serves doc as JSON.
func Handler(doc ProtectedResourceMetadata) http.Handler {
	body, err := json.Marshal(doc)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(body)
	})
}
