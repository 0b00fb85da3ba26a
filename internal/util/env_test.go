package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	const key = "SAFEHARBOR_TEST_FLAG"

	t.Setenv(key, "")
	if !ParseBoolEnv(key, true) {
		t.Error("expected default for unset variable")
	}

	cases := map[string]bool{
		"true": true, "1": true, "YES": true, " on ": true,
		"false": false, "0": false, "No": false, "off": false,
	}
	for val, want := range cases {
		t.Setenv(key, val)
		if got := ParseBoolEnv(key, !want); got != want {
			t.Errorf("ParseBoolEnv(%q) = %v, want %v", val, got, want)
		}
	}

	t.Setenv(key, "banana")
	if !ParseBoolEnv(key, true) {
		t.Error("expected default for unparseable value")
	}
}
