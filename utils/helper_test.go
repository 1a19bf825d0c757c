package utils

import (
	"errors"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in, region, want string
		ok               bool
	}{
		{"(650) 253-0000", "US", "+16502530000", true},
		{"+1 650 253 0000", "MM", "+16502530000", true},
		{"12", "US", "", false},
		{"not a phone", "US", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePhoneNumber(tc.in, tc.region)
		if (err == nil) != tc.ok {
			t.Fatalf("NormalizePhoneNumber(%q, %s) err = %v", tc.in, tc.region, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizePhoneNumber(%q, %s) = %q, want %q", tc.in, tc.region, got, tc.want)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	if !IsValidEmail("ada@gigvora.test") {
		t.Fatalf("valid email rejected")
	}
	for _, s := range []string{"", "ada", "ada@", "@gigvora.test", "ada@gigvora"} {
		if IsValidEmail(s) {
			t.Fatalf("%q accepted", s)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("short string changed: %q", got)
	}
	if got := Truncate("hello world", 6); got != "hello…" {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("ဆိုင်ခွဲ", 3); len([]rune(got)) != 3 {
		t.Fatalf("Truncate must count runes, got %q", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("  a \n\t b  "); got != "a b" {
		t.Fatalf("CollapseWhitespace = %q", got)
	}
}

func TestProcessValidationErrors(t *testing.T) {
	type input struct {
		Name string `validate:"required"`
	}
	err := validator.New().Struct(input{})
	got := ProcessValidationErrors(errors.Join(errors.New("invalid"), err))
	if !reflect.DeepEqual(got, map[string]string{"Name": "required"}) {
		t.Fatalf("wrapped validation errors = %v", got)
	}

	got = ProcessValidationErrors(errors.New("boom"))
	if got["_"] != "boom" {
		t.Fatalf("plain error = %v", got)
	}
}

func TestThreadCacheKeys(t *testing.T) {
	got := ThreadCacheKeys(12, []int{7, 3, 7})
	want := []string{"ThreadList", "Thread:12", "ThreadMessages:12", "Inbox:User:3", "Inbox:User:7"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ThreadCacheKeys = %v, want %v", got, want)
	}
}

func TestJwtRoundTrip(t *testing.T) {
	t.Setenv("API_SECRET", "test-secret")
	token, err := JwtGenerate(7, "user")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	parsed, err := JwtValidate(token)
	if err != nil || !parsed.Valid {
		t.Fatalf("JwtValidate: %v", err)
	}
	claim := parsed.Claims.(*JwtCustomClaim)
	if claim.ID != 7 || claim.Role != "user" {
		t.Fatalf("claim = %+v", claim)
	}

	t.Setenv("API_SECRET", "rotated")
	if _, err := JwtValidate(token); err == nil {
		t.Fatalf("token signed with old secret validated")
	}
}
