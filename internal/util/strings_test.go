package util

import (
	"reflect"
	"testing"
)

func TestTrimHelpers(t *testing.T) {
	if got := TrimAndLower("  PROD "); got != "prod" {
		t.Errorf("TrimAndLower = %q", got)
	}
	if v, ok := TrimEmptyCheck("   "); ok || v != "" {
		t.Errorf("TrimEmptyCheck(blank) = %q, %v", v, ok)
	}
	if v, ok := TrimEmptyCheck(" main "); !ok || v != "main" {
		t.Errorf("TrimEmptyCheck(main) = %q, %v", v, ok)
	}
	if got := TrimWithDefault(" ", "sqlite"); got != "sqlite" {
		t.Errorf("TrimWithDefault = %q", got)
	}
}

func TestEnvVarName(t *testing.T) {
	tests := map[string]string{
		"Build-Output.v2":   "BUILD_OUTPUT_V2",
		"/deploy/slack-url": "DEPLOY_SLACK_URL",
		"TARGET_STAGE":      "TARGET_STAGE",
		" spec ":            "SPEC",
	}
	for in, want := range tests {
		if got := EnvVarName(in); got != want {
			t.Errorf("EnvVarName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]int{"b": 1, "a": 2, "c": 3})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("SortedKeys = %v", got)
	}
}
