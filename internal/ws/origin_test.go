package ws

import "testing"

func TestOriginPolicy(t *testing.T) {
	allowed := []string{"https://a.example.com", " http://localhost:8080 ", ""}

	tests := []struct {
		name   string
		origin string
		bypass bool
		want   bool
	}{
		{"exact match", "https://a.example.com", false, true},
		{"trimmed entry", "http://localhost:8080", false, true},
		{"same site with path", "https://a.example.com/", false, true},
		{"same site other case", "HTTPS://A.example.com", false, true},
		{"scheme downgrade", "http://a.example.com", false, false},
		{"scheme upgrade", "https://localhost:8080", false, false},
		{"different host", "https://b.example.com", false, false},
		{"different port", "http://localhost:9090", false, false},
		{"missing origin", "", false, false},
		{"garbage", "::not a url", false, false},
		{"no host", "file:///etc/passwd", false, false},
		{"bypass different host", "https://b.example.com", true, true},
		{"bypass missing origin", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewOriginPolicy(allowed, tt.bypass)
			if got := p.Allowed(tt.origin); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestOriginPolicyEmptyAllowList(t *testing.T) {
	p := NewOriginPolicy(nil, false)
	if p.Allowed("http://localhost:8080") {
		t.Error("empty allow-list accepted an origin")
	}
}
