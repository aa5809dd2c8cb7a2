package auth

import "testing"

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a@x.com", "a@x.com"},
		{"  A@X.COM  ", "a@x.com"},
		{"User.Name@Example.Org", "user.name@example.org"},
		{"taro@例え.jp", "taro@xn--r8jz45g.jp"},
		{"no-at-sign", "no-at-sign"},
		{"trailing@", "trailing@"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeEmail(tt.in); got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"a@x.com", true},
		{"first.last+tag@sub.example.co.jp", true},
		{"a@x", false},
		{"@x.com", false},
		{"a@.com", false},
		{"a b@x.com", false},
		{"a@@x.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := ValidEmail(tt.email); got != tt.want {
				t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestValidateCredentials_MinLengthCountsRunes(t *testing.T) {
	if err := validateCredentials("a@x.com", "ひみつです", 5); err != nil {
		t.Errorf("5 multibyte characters should satisfy min length 5: %v", err)
	}
	if err := validateCredentials("a@x.com", "abcd", 0); err != nil {
		t.Errorf("min length 0 should disable the length check: %v", err)
	}
}
