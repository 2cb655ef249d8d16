package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer review", role: RoleViewer, action: ActionReview, allow: false},
		{name: "viewer admin", role: RoleViewer, action: ActionAdmin, allow: false},
		{name: "reviewer read", role: RoleReviewer, action: ActionRead, allow: true},
		{name: "reviewer review", role: RoleReviewer, action: ActionReview, allow: true},
		{name: "reviewer admin", role: RoleReviewer, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown read", role: Role("owner"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("reviewer"); got != RoleReviewer {
		t.Fatalf("Normalize(reviewer) = %q", got)
	}
	if got := Normalize("editor"); got != RoleViewer {
		t.Fatalf("Normalize(editor) = %q, want viewer", got)
	}
}
