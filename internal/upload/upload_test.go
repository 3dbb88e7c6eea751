package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedFile(t *testing.T) {
	allowed := []string{"mp4", "avi", "mov"}

	assert.True(t, AllowedFile("video.mp4", allowed))
	assert.True(t, AllowedFile("video.avi", allowed))
	assert.True(t, AllowedFile("VIDEO.MOV", allowed))

	assert.False(t, AllowedFile("image.jpg", allowed))
	assert.False(t, AllowedFile("document.pdf", allowed))
	assert.False(t, AllowedFile("noextension", allowed))
	assert.False(t, AllowedFile("mp4", allowed))
}

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My cool movie.mp4", "My_cool_movie.mp4"},
		{"../../../etc/passwd", "etc_passwd"},
		{"i contain cool \u00fcml\u00e4uts.mp4", "i_contain_cool_umlauts.mp4"},
		{"D404_11-06-25_11-00.mp4", "D404_11-06-25_11-00.mp4"},
		{"C:\\Users\\cam\\clip.avi", "C_Users_cam_clip.avi"},
		{"...", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SecureFilename(tt.in))
		})
	}
}

func TestDerivedNames(t *testing.T) {
	assert.Equal(t, "result_clip.mp4", ResultName("clip.mp4"))
	assert.Equal(t, "violence_frame_clip.jpg", EvidenceName("clip.mp4"))
	assert.Equal(t, "violence_frame_D404_11-06-25_11-00.jpg", EvidenceName("D404_11-06-25_11-00.mp4"))
}

func TestParseMetadata(t *testing.T) {
	md, ok := ParseMetadata("D404_11-06-25_11-00.mp4", "")
	assert.True(t, ok)
	assert.Equal(t, Metadata{Room: "D404", Date: "11 June 2025", Time: "11:00 WIB"}, md)

	md, ok = ParseMetadata("LAB2_01-12-2024_23-45.mov", "WITA")
	assert.True(t, ok)
	assert.Equal(t, Metadata{Room: "LAB2", Date: "1 December 2024", Time: "23:45 WITA"}, md)
}

func TestParseMetadataRejects(t *testing.T) {
	for _, name := range []string{
		"abc.mp4",
		"room_date.mp4",
		"A_B_C_D.mp4",
		"D404_11-13-25_11-00.mp4",
		"D404_11-00-25_11-00.mp4",
		"D404_aa-06-25_11-00.mp4",
		"D404_11-06_11-00.mp4",
		"D404_11-06-25_1100.mp4",
		"_11-06-25_11-00.mp4",
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := ParseMetadata(name, "")
			assert.False(t, ok)
		})
	}
}
