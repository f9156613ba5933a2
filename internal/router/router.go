// Package router picks the destination folder for a classified upload and
// performs the upload itself.
package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docorganizer/docorganizer/internal/drive"
	"github.com/docorganizer/docorganizer/internal/models"
	"github.com/docorganizer/docorganizer/internal/oracle"
)

// ErrNoDestination means nothing in the folder map nor the root folder could
// take the file. The caller notifies the user without uploading.
var ErrNoDestination = errors.New("no destination folder resolvable")

// fallbackSubjects are the utility folders the oracle may name even when the
// syllabus does not contain them.
var fallbackSubjects = []string{"Important Documents", "Screenshots", "Identity Cards", "Personal"}

const importedDocumentsSubject = "Imported Documents"

// Destination is a resolved upload target plus the label shown to the user.
type Destination struct {
	FolderID string
	Label    string
}

// Route applies the deterministic fallback chain:
//  1. subject and unit both known        -> unit folder, "Subject > Unit"
//  2. subject known, unit not            -> subject folder, "Subject (Root)"
//  3. subject in the fixed fallback set  -> that folder, label = subject
//  4. an "Imported Documents" entry      -> that folder
//  5. root folder                        -> "Home Folder"
//
// The proposal is untrusted: membership in the user's own map decides
// everything.
func Route(folders models.FolderMap, rootFolderID string, p oracle.Proposal) (Destination, error) {
	if entry, ok := folders[p.Subject]; ok {
		if unitID, ok := entry.Units[p.Unit]; ok {
			return Destination{FolderID: unitID, Label: fmt.Sprintf("%s > %s", p.Subject, p.Unit)}, nil
		}
		if entry.ID != "" {
			return Destination{FolderID: entry.ID, Label: fmt.Sprintf("%s (Root)", p.Subject)}, nil
		}
	}

	for _, subject := range fallbackSubjects {
		if subject != p.Subject {
			continue
		}
		if entry, ok := folders[subject]; ok && entry.ID != "" {
			return Destination{FolderID: entry.ID, Label: subject}, nil
		}
	}

	if entry, ok := folders[importedDocumentsSubject]; ok && entry.ID != "" {
		return Destination{FolderID: entry.ID, Label: importedDocumentsSubject}, nil
	}

	if rootFolderID != "" {
		return Destination{FolderID: rootFolderID, Label: "Home Folder"}, nil
	}

	return Destination{}, ErrNoDestination
}

// Deliver uploads the local file to the destination under the suggested name
// and deletes the temp file whether or not the upload succeeded. Disk leakage
// is worse than re-asking the user to resend.
func Deliver(ctx context.Context, ops drive.Ops, localPath, name string, dest Destination) error {
	defer os.Remove(localPath)

	_, err := ops.Upload(ctx, localPath, name, MimeForFile(name, localPath), dest.FolderID)
	if err != nil {
		return fmt.Errorf("failed to deliver %q to %s: %w", name, dest.Label, err)
	}
	return nil
}

// MimeForFile infers a mime type from the suggested name, falling back to the
// temp file's extension.
func MimeForFile(name, localPath string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(localPath))
	}
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	default:
		return "application/octet-stream"
	}
}
