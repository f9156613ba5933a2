// Package provision materializes a syllabus as a Drive folder tree.
//
// Provisioning is append-only and non-reconciling: it never lists existing
// Drive children to detect duplicates by name. Idempotency rests entirely on
// the caller checking its stored folder map before calling: run All twice
// for the same user and you get two trees. Drive does not unique-constrain
// folder names, so there is nothing better to lean on without a listing pass.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/docorganizer/docorganizer/internal/drive"
	"github.com/docorganizer/docorganizer/internal/models"
)

// maxFolderNameRunes bounds unit folder names; longer ones are truncated with
// an ellipsis suffix.
const maxFolderNameRunes = 50

// RootFolderName is the deterministic name of a user's root folder.
func RootFolderName(phone string) string {
	return "Smart Docs - " + phone
}

// Provisioner creates folder trees through a Drive session.
type Provisioner struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Provisioner {
	return &Provisioner{logger: logger}
}

// All creates the root folder, one child per subject, and one grandchild per
// unit, returning the root id and the complete folder map.
func (p *Provisioner) All(ctx context.Context, ops drive.Ops, phone string, subjects models.Syllabus) (string, models.FolderMap, error) {
	rootID, err := ops.CreateFolder(ctx, RootFolderName(phone), "")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create root folder: %w", err)
	}
	p.logger.Info("created root folder", "phone", phone, "folder_id", rootID)

	folderMap, err := p.createSubjects(ctx, ops, rootID, subjects)
	if err != nil {
		return "", nil, err
	}
	return rootID, folderMap, nil
}

// Append creates folders only for subjects missing from the existing map,
// under the existing root. The caller merges the returned partial map into
// its stored map; subjects already present are skipped without any Drive
// call.
func (p *Provisioner) Append(ctx context.Context, ops drive.Ops, rootID string, existing models.FolderMap, subjects models.Syllabus) (models.FolderMap, error) {
	missing := models.Syllabus{}
	for subject, units := range subjects {
		if _, ok := existing[subject]; ok {
			p.logger.Debug("skipping existing subject", "subject", subject)
			continue
		}
		missing[subject] = units
	}
	if len(missing) == 0 {
		return models.FolderMap{}, nil
	}
	return p.createSubjects(ctx, ops, rootID, missing)
}

func (p *Provisioner) createSubjects(ctx context.Context, ops drive.Ops, parentID string, subjects models.Syllabus) (models.FolderMap, error) {
	folderMap := models.FolderMap{}

	// Deterministic creation order keeps logs and partial failures readable.
	names := make([]string, 0, len(subjects))
	for subject := range subjects {
		names = append(names, subject)
	}
	sort.Strings(names)

	for _, subject := range names {
		subjectID, err := ops.CreateFolder(ctx, subject, parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to create subject folder %q: %w", subject, err)
		}

		entry := models.SubjectFolders{ID: subjectID, Units: map[string]string{}}
		for _, unit := range subjects[subject] {
			unitID, err := ops.CreateFolder(ctx, truncateName(unit), subjectID)
			if err != nil {
				return nil, fmt.Errorf("failed to create unit folder %q: %w", unit, err)
			}
			// Keyed by the full unit name; only the Drive folder is shortened.
			entry.Units[unit] = unitID
		}
		folderMap[subject] = entry
		p.logger.Info("created subject folder", "subject", subject, "units", len(entry.Units))
	}

	return folderMap, nil
}

// truncateName shortens unit names past the Drive-friendly limit.
func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) <= maxFolderNameRunes {
		return name
	}
	return string(runes[:maxFolderNameRunes]) + "..."
}
