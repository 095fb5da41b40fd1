package domain

import (
	"fmt"
	"strings"
)

// MaxNotesLength 点歌备注的最大长度
const MaxNotesLength = 150

// SongRequest 表示一条已组装完成、待投递的点歌请求。
// 仅在会话内存在，不落库。
type SongRequest struct {
	SenderID       string
	SenderNickname string
	Song           string
	Artist         string
	Notes          string
}

// ValidateNotes 校验备注长度。
func ValidateNotes(notes string) error {
	if len([]rune(notes)) > MaxNotesLength {
		return ErrNotesTooLong
	}
	return nil
}

// RenderForRecipient 渲染发给接收方的请求文本。
func (r *SongRequest) RenderForRecipient() string {
	var b strings.Builder
	fmt.Fprintf(&b, "New song request from %s!\n", r.SenderNickname)
	fmt.Fprintf(&b, "Song: %s\n", r.Song)
	fmt.Fprintf(&b, "Artist: %s", r.Artist)
	if r.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", r.Notes)
	}
	return b.String()
}

// RenderConfirmation 渲染请求确认文本，发给发送方核对。
func (r *SongRequest) RenderConfirmation() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confirm song request:\nSong: %s\nArtist: %s", r.Song, r.Artist)
	if r.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", r.Notes)
	}
	return b.String()
}
