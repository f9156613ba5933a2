package drive

import (
	"context"
	"fmt"
	"os"
	"strings"

	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const folderMimeType = "application/vnd.google-apps.folder"

// searchPageSize caps search replies at five results, matching the chat
// formatting downstream.
const searchPageSize = 5

// File is one Drive item in a search result.
type File struct {
	ID          string
	Name        string
	MimeType    string
	WebViewLink string
}

// Ops is the slice of Drive the provisioner, router, and search need.
// Tests substitute fakes.
type Ops interface {
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, localPath, name, mimeType, folderID string) (string, error)
	List(ctx context.Context, folderID, nameContains string) ([]File, error)
}

// Service implements Ops over the real Drive v3 API.
type Service struct {
	srv *driveapi.Service
}

// CreateFolder creates a folder and returns its id. No duplicate detection:
// Drive folder names are not unique-constrained, and idempotency is the
// caller's stored-map check.
func (s *Service) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	meta := &driveapi.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}

	created, err := s.srv.Files.Create(meta).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	return created.Id, nil
}

// Upload streams a local file into the given folder under the given name.
func (s *Service) Upload(ctx context.Context, localPath, name, mimeType, folderID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	meta := &driveapi.File{
		Name:    name,
		Parents: []string{folderID},
	}

	created, err := s.srv.Files.Create(meta).
		Media(f, googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload %q: %w", name, err)
	}
	return created.Id, nil
}

// List returns up to five non-trashed children of a folder, optionally
// filtered by a name substring.
func (s *Service) List(ctx context.Context, folderID, nameContains string) ([]File, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	if nameContains != "" {
		query += fmt.Sprintf(" and name contains '%s'", escapeQueryTerm(nameContains))
	}

	res, err := s.srv.Files.List().
		Q(query).
		PageSize(searchPageSize).
		Fields("files(id, name, mimeType, webViewLink)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", folderID, err)
	}

	files := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, File{ID: f.Id, Name: f.Name, MimeType: f.MimeType, WebViewLink: f.WebViewLink})
	}
	return files, nil
}

// escapeQueryTerm escapes the quoting characters Drive's query language cares
// about.
func escapeQueryTerm(term string) string {
	term = strings.ReplaceAll(term, `\`, `\\`)
	return strings.ReplaceAll(term, `'`, `\'`)
}
