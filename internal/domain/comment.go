package domain

import (
	"fmt"
	"strings"
	"time"
)

// SystemAuthor is the author recorded on comments the engine writes itself.
const SystemAuthor = "system"

// PreviousCommentsDivider introduces the carried-over thread on a reopened ticket.
const PreviousCommentsDivider = "--- Previous Comments ---"

// Comment captures one entry in a ticket thread. Comments are never edited.
type Comment struct {
	ID        int64
	Author    string
	Text      string
	System    bool
	CreatedAt time.Time
}

// FlattenComments renders a thread into the text blob stored on archives.
func FlattenComments(comments []Comment) string {
	if len(comments) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(comments))
	for _, c := range comments {
		blocks = append(blocks, fmt.Sprintf("[%s] %s:\n%s", c.CreatedAt.UTC().Format(time.RFC3339), c.Author, c.Text))
	}
	return strings.Join(blocks, "\n\n")
}
