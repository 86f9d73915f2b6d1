package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name    string
		mode    string
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{"production default", ProductionMode, "", zapcore.InfoLevel, false},
		{"development default", DevelopmentMode, "", zapcore.DebugLevel, false},
		{"explicit level", ProductionMode, "warn", zapcore.WarnLevel, false},
		{"bad level", ProductionMode, "loud", 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := New(tc.mode, tc.level)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !l.Core().Enabled(tc.want) {
				t.Errorf("level %v not enabled", tc.want)
			}
			if tc.want > zapcore.DebugLevel && l.Core().Enabled(tc.want-1) {
				t.Errorf("level %v unexpectedly enabled", tc.want-1)
			}
		})
	}
}

func TestContext(t *testing.T) {
	fallback := zap.NewNop()
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Error("expected fallback for bare context")
	}
	l := zap.NewExample()
	ctx := WithContext(context.Background(), l)
	if got := FromContext(ctx, fallback); got != l {
		t.Error("expected stored logger")
	}
}
