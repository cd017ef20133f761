package safety

import (
	"testing"
)

func Test_Filter_IsAllowed_Cases(t *testing.T) {
	tests := []struct {
		name      string
		allowlist []string
		denylist  []string
		guest     string
		want      bool
	}{
		{
			name:      "empty lists allow everything",
			allowlist: []string{},
			denylist:  []string{},
			guest:     "anything",
			want:      true,
		},
		{
			name:      "nil lists allow everything",
			allowlist: nil,
			denylist:  nil,
			guest:     "anything",
			want:      true,
		},
		{
			name:      "in allowlist is allowed",
			allowlist: []string{"testvm", "scratch"},
			denylist:  []string{},
			guest:     "testvm",
			want:      true,
		},
		{
			name:      "not in allowlist is denied",
			allowlist: []string{"testvm", "scratch"},
			denylist:  []string{},
			guest:     "gateway",
			want:      false,
		},
		{
			name:      "in denylist is denied",
			allowlist: []string{},
			denylist:  []string{"prod-db"},
			guest:     "prod-db",
			want:      false,
		},
		{
			name:      "denylist wins over allowlist",
			allowlist: []string{"testvm", "prod-db"},
			denylist:  []string{"prod-db"},
			guest:     "prod-db",
			want:      false,
		},
		{
			name:      "glob pattern in denylist matches",
			allowlist: []string{},
			denylist:  []string{"prod-*"},
			guest:     "prod-web-01",
			want:      false,
		},
		{
			name:      "glob pattern in allowlist matches",
			allowlist: []string{"testvm*"},
			denylist:  []string{},
			guest:     "testvm-9",
			want:      true,
		},
		{
			name:      "glob pattern no match in allowlist",
			allowlist: []string{"testvm*"},
			denylist:  []string{},
			guest:     "scratch",
			want:      false,
		},
		{
			name:      "malformed pattern treated as non-matching",
			allowlist: []string{"[unclosed"},
			denylist:  []string{},
			guest:     "testvm",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(tt.allowlist, tt.denylist)
			if got := f.IsAllowed(tt.guest); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.guest, got, tt.want)
			}
		})
	}
}
