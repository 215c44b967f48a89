package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var expandAt = time.Date(2025, time.March, 7, 9, 5, 42, 0, time.UTC)

func TestExpand_DateTokens(t *testing.T) {
	tests := []struct {
		name     string
		template string
		file     string
		expected string
	}{
		{
			name:     "year only",
			template: "/dst/{year}",
			file:     "a.mp4",
			expected: "/dst/2025",
		},
		{
			name:     "year month day",
			template: "/archive/{year}/{month}/{day}",
			file:     "report.pdf",
			expected: "/archive/2025/03/07",
		},
		{
			name:     "hour and minute zero padded",
			template: "{hour}{minute}",
			file:     "x",
			expected: "0905",
		},
		{
			name:     "timestamp",
			template: "/in/{timestamp}",
			file:     "x",
			expected: "/in/20250307_090542",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Expand(tt.template, tt.file, expandAt))
		})
	}
}

func TestExpand_FileTokens(t *testing.T) {
	tests := []struct {
		name     string
		template string
		file     string
		expected string
	}{
		{
			name:     "filename keeps extension",
			template: "/dst/{filename}",
			file:     "video.mp4",
			expected: "/dst/video.mp4",
		},
		{
			name:     "original_filename is an alias",
			template: "{original_filename}",
			file:     "video.mp4",
			expected: "video.mp4",
		},
		{
			name:     "name strips extension",
			template: "{name}.bak",
			file:     "video.mp4",
			expected: "video.bak",
		},
		{
			name:     "ext has no dot",
			template: "by-type/{ext}/{filename}",
			file:     "video.mp4",
			expected: "by-type/mp4/video.mp4",
		},
		{
			name:     "full path reduced to base name",
			template: "{filename}",
			file:     "/src/media/2025/video.mp4",
			expected: "video.mp4",
		},
		{
			name:     "windows separators reduced to base name",
			template: "{filename}",
			file:     `C:\src\media\video.mp4`,
			expected: "video.mp4",
		},
		{
			name:     "no extension",
			template: "{name}|{ext}",
			file:     "README",
			expected: "README|",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Expand(tt.template, tt.file, expandAt))
		})
	}
}

func TestExpand_UnknownTokenPassesThrough(t *testing.T) {
	result := Expand("/dst/{nope}/{year}", "a.mp4", expandAt)
	assert.Equal(t, "/dst/{nope}/2025", result)
}

func TestExpand_NoTokensIsIdentity(t *testing.T) {
	assert.Equal(t, "/plain/path", Expand("/plain/path", "a.mp4", expandAt))
}

func TestHasTokens(t *testing.T) {
	assert.True(t, HasTokens("/dst/{year}/{filename}"))
	assert.True(t, HasTokens("{timestamp}"))
	assert.False(t, HasTokens("/plain/path"))
	assert.False(t, HasTokens("/dst/{unknown}"))
}
