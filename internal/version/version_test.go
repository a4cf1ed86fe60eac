package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/linnemanlabs-menu/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	t.Cleanup(func() { v.VCSDirty = nil })

	v.VCSDirty = nil
	info := v.Get()
	if info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", info.VCSDirty)
	}

	trueVal := true
	v.VCSDirty = &trueVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != true {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	falseVal := false
	v.VCSDirty = &falseVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != false {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestInfoString(t *testing.T) {
	dirty := true
	s := v.Info{Version: "1.4.0", Commit: "abc123", BuildId: "b-7", GoVersion: "go1.24.11", VCSDirty: &dirty}.String()
	for _, want := range []string{v.App, "1.4.0", "commit=abc123", "build_id=b-7", "dirty=true", "go1.24.11"} {
		if !strings.Contains(s, want) {
			t.Errorf("banner %q missing %q", s, want)
		}
	}

	if s := (v.Info{Version: "dev"}).String(); !strings.Contains(s, "dirty=unknown") {
		t.Errorf("nil VCSDirty should render unknown: %q", s)
	}
}
