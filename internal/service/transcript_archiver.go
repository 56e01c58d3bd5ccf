package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/verification-desk/internal/platform"
	apperrors "github.com/spec-kit/verification-desk/pkg/util"
)

const (
	transcriptTimeLayout = "2006-01-02 15:04:05"
	transcriptFileLayout = "20060102_150405"
	defaultHistoryPage   = 100
	emptyContentMarker   = "[no text content]"
	incompleteMarker     = "!! transcript incomplete:"
)

// Transcript is the rendered history of a ticket channel.
type Transcript struct {
	Text     string
	Messages int
	// Err is the retrieval failure that truncated the history, if any.
	Err error
}

// ArchiveFile describes a persisted transcript.
type ArchiveFile struct {
	Path   string
	Digest string
}

// TranscriptArchiver renders channel history and writes it to durable storage.
type TranscriptArchiver struct {
	client   platform.Client
	logger   *zap.Logger
	dir      string
	pageSize int
	now      func() time.Time
}

// NewTranscriptArchiver writes transcripts under dir.
func NewTranscriptArchiver(client platform.Client, logger *zap.Logger, dir string) *TranscriptArchiver {
	return &TranscriptArchiver{
		client:   client,
		logger:   logger,
		dir:      dir,
		pageSize: defaultHistoryPage,
		now:      time.Now,
	}
}

// Build renders the whole history of channel oldest first. A retrieval error ends the walk;
// the lines gathered so far are kept and one error marker is appended.
func (a *TranscriptArchiver) Build(ctx context.Context, channel platform.Channel) Transcript {
	var b strings.Builder
	b.WriteString("=== TICKET TRANSCRIPT ===\n")
	fmt.Fprintf(&b, "Channel: #%s (%s)\n", channel.Name, channel.ID)
	fmt.Fprintf(&b, "Generated: %s UTC\n", a.now().UTC().Format(transcriptTimeLayout))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	transcript := Transcript{}
	afterID := ""
	for {
		page, err := a.client.Messages(ctx, channel.ID, afterID, a.pageSize)
		if err != nil {
			transcript.Err = err
			fmt.Fprintf(&b, "\n%s %v\n", incompleteMarker, err)
			break
		}
		for _, msg := range page {
			writeMessage(&b, msg)
			transcript.Messages++
		}
		if len(page) < a.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	transcript.Text = b.String()
	return transcript
}

// Persist writes the transcript under a name derived from the user, the closure time and the
// ticket id. The returned digest is the BLAKE2b-256 of the content.
func (a *TranscriptArchiver) Persist(transcript string, userID, ticketID string, closedAt time.Time) (ArchiveFile, error) {
	if err := os.MkdirAll(a.dir, 0o750); err != nil {
		return ArchiveFile{}, apperrors.NewArchivalError("persist", err)
	}
	name := fmt.Sprintf("transcript_%s_%s_%s.txt", userID, closedAt.UTC().Format(transcriptFileLayout), ticketID)
	path := filepath.Join(a.dir, name)
	content := []byte(transcript)
	if err := atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return ArchiveFile{}, apperrors.NewArchivalError("persist", err)
	}
	sum := blake2b.Sum256(content)
	return ArchiveFile{Path: path, Digest: hex.EncodeToString(sum[:])}, nil
}

func writeMessage(b *strings.Builder, msg platform.Message) {
	content := msg.Content
	if strings.TrimSpace(content) == "" {
		content = emptyContentMarker
	}
	content = strings.ReplaceAll(content, "\n", "\n    ")
	fmt.Fprintf(b, "[%s] %s (%s): %s\n", msg.CreatedAt.UTC().Format(transcriptTimeLayout), msg.AuthorName, msg.AuthorID, content)
	for _, att := range msg.Attachments {
		fmt.Fprintf(b, "  📎 Attachment: %s (%s)\n", att.Filename, att.URL)
	}
	for _, title := range msg.EmbedTitles {
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(b, "  📋 Embed: %s\n", title)
	}
}
