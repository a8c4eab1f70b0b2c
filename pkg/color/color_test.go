package color

import (
	"strings"
	"testing"
)

func restore(t *testing.T) {
	origEnabled := state.enabled.Load()
	origOverridden := state.overridden.Load()
	t.Cleanup(func() {
		state.enabled.Store(origEnabled)
		state.overridden.Store(origOverridden)
	})
}

func TestEnableDisable(t *testing.T) {
	restore(t)

	Enable()
	if !Enabled() {
		t.Error("expected colors to be enabled after Enable()")
	}

	Disable()
	if Enabled() {
		t.Error("expected colors to be disabled after Disable()")
	}
}

func TestDisabledIsPlain(t *testing.T) {
	restore(t)
	Disable()

	funcs := map[string]func(string) string{
		"Success": Success,
		"Error":   Error,
		"Warning": Warning,
		"Info":    Info,
		"Package": Package,
		"Header":  Header,
		"Dim":     Dim,
		"Code":    Code,
	}
	for name, fn := range funcs {
		if got := fn("a-1.hpkg"); got != "a-1.hpkg" {
			t.Errorf("%s: expected plain text, got %q", name, got)
		}
	}
}

func TestEnabledKeepsText(t *testing.T) {
	restore(t)
	Enable()

	if got := Successf("activated %d", 2); !strings.Contains(got, "activated 2") {
		t.Errorf("expected text to survive styling, got %q", got)
	}
	if got := Errorf("failed: %s", "x"); !strings.Contains(got, "failed: x") {
		t.Errorf("expected text to survive styling, got %q", got)
	}
}
