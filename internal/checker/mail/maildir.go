package mail

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Maildir reads message headers from the new and cur folders of a maildir.
type Maildir struct {
	Root string
}

func (m Maildir) Messages(ctx context.Context) ([]Message, error) {
	var messages []Message
	for _, folder := range []string{"new", "cur"} {
		entries, err := os.ReadDir(filepath.Join(m.Root, folder))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			message, err := readHeader(filepath.Join(m.Root, folder, entry.Name()))
			if err != nil {
				continue
			}
			messages = append(messages, message)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Date.Before(messages[j].Date)
	})
	return messages, nil
}

func readHeader(path string) (Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return Message{}, err
	}
	defer file.Close()

	parsed, err := mail.ReadMessage(file)
	if err != nil {
		return Message{}, fmt.Errorf("parse %s: %w", path, err)
	}
	header := parsed.Header
	message := Message{
		ID:      strings.Trim(header.Get("Message-Id"), "<> "),
		From:    header.Get("From"),
		Subject: header.Get("Subject"),
	}
	if message.ID == "" {
		// maildir file names are unique up to the info suffix
		message.ID, _, _ = strings.Cut(filepath.Base(path), ":")
	}
	if date, err := header.Date(); err == nil {
		message.Date = date.UTC()
	}
	return message, nil
}
