package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":         "/",
		"/metrics": "/metrics",
		"/v1/admin/companies/01HZX3K9J6Q8W2M4N5P7R9T0VB/invites": "/v1/admin/companies/:id/invites",
		"/v1/admin/clients/01HZX3K9J6Q8W2M4N5P7R9T0VB":         "/v1/admin/clients/:id",
		"/v1/invites/s3cr3t-value":                             "/v1/invites/:token",
		"/v1/invites/accept":                                   "/v1/invites/accept",
		"/v1/admin/audit?limit=10":                             "/v1/admin/audit",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
