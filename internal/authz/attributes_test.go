package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoles(t *testing.T) {
	cases := map[string]struct {
		in   any
		want []string
	}{
		"scalar":              {"Admin", []string{"admin"}},
		"plain list":          {[]string{"admin", "user"}, []string{"admin", "user"}},
		"any list":            {[]any{"Admin", "User"}, []string{"admin", "user"}},
		"list-shaped string":  {`['admin','user']`, []string{"admin", "user"}},
		"comma string":        {"admin, user", []string{"admin", "user"}},
		"duplicates collapse": {[]string{"admin", "ADMIN", "user"}, []string{"admin", "user"}},
		"order preserved":     {[]string{"user", "admin"}, []string{"user", "admin"}},
		"blank entries":       {[]string{"", " ", "admin"}, []string{"admin"}},
		"empty string":        {"", nil},
		"nil":                 {nil, nil},
		"unsupported type":    {42, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeRoles(tc.in))
		})
	}
}

func TestBuildBagShape(t *testing.T) {
	principal := &Principal{
		ID:           42,
		Username:     "mira",
		Roles:        []string{"editor", "user"},
		Department:   "engineering",
		Organization: "org-7",
		Clearance:    3,
	}
	resource := &Resource{
		ID:           9,
		OwnerID:      42,
		Organization: "org-7",
		Department:   "engineering",
		Sensitivity:  2,
	}
	bag := BuildBag(principal, resource, "read", RequestContext{
		IP:     "10.0.0.1",
		Method: "GET",
		Path:   "/v1/documents/9",
		Time:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	user := bag["user"].(map[string]any)
	assert.Equal(t, int64(42), user["id"])
	assert.Equal(t, "editor", user["role"])
	assert.Equal(t, []string{"editor", "user"}, user["roles"])

	res := bag["resource"].(map[string]any)
	assert.Equal(t, int64(42), res["owner_id"])
	assert.Equal(t, 2, res["sensitivity"])

	assert.Equal(t, "read", bag["action"])
	reqCtx := bag["context"].(map[string]any)
	assert.Equal(t, "10.0.0.1", reqCtx["ip"])
	assert.Equal(t, "2026-03-01T12:00:00Z", reqCtx["time"])
}

func TestBuildBagNilResource(t *testing.T) {
	bag := BuildBag(&Principal{ID: 1}, nil, "search", RequestContext{})
	res, ok := bag["resource"].(map[string]any)
	assert.True(t, ok)
	assert.Empty(t, res)
}
