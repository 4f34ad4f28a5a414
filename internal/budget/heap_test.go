package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeapSize(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   int
	}{
		{name: "gigabytes", tokens: []string{"-Xmx2g"}, want: 2048},
		{name: "gigabytes upper", tokens: []string{"-Xmx3G"}, want: 3072},
		{name: "megabytes", tokens: []string{"-Xmx512m"}, want: 512},
		{name: "kilobytes truncate", tokens: []string{"-Xmx2048k"}, want: 2},
		{name: "kilobytes below one MB", tokens: []string{"-Xmx1000K"}, want: 0},
		{name: "first match wins", tokens: []string{"java", "-Xms1g", "-Xmx4g", "-Xmx1g"}, want: 4096},
		{name: "no match", tokens: []string{"java", "-Xms2g", "-jar", "engine.jar"}, want: DefaultHeapMB},
		{name: "missing unit", tokens: []string{"-Xmx2048"}, want: DefaultHeapMB},
		{name: "embedded flag ignored", tokens: []string{"--conf", "opts=-Xmx2g"}, want: DefaultHeapMB},
		{name: "empty", tokens: nil, want: DefaultHeapMB},
		{name: "gigabytes overflow skipped", tokens: []string{"-Xmx9007199254740993g"}, want: DefaultHeapMB},
		{name: "overflow then valid", tokens: []string{"-Xmx9007199254740993g", "-Xmx2g"}, want: 2048},
		{name: "digits beyond int", tokens: []string{"-Xmx99999999999999999999m"}, want: DefaultHeapMB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHeapSize(tt.tokens))
		})
	}
}
