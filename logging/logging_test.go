package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"production default", Config{}, zapcore.InfoLevel, false},
		{"development default", Config{Environment: "development"}, zapcore.DebugLevel, false},
		{"explicit level", Config{Environment: "prod", LogLevel: "warn"}, zapcore.WarnLevel, false},
		{"bad level", Config{LogLevel: "chatty"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if !logger.Core().Enabled(tt.wantLevel) {
				t.Errorf("Expected %s to be enabled", tt.wantLevel)
			}
			if tt.wantLevel > zapcore.DebugLevel && logger.Core().Enabled(tt.wantLevel-1) {
				t.Errorf("Expected %s to be disabled", tt.wantLevel-1)
			}
		})
	}
}
