package models

import (
	"encoding/json"
	"fmt"
)

// Syllabus maps a subject name to its ordered unit names. It is the draft a
// user edits between syllabus upload and folder provisioning.
type Syllabus map[string][]string

// SubjectFolders is one subject's slot in the folder map: the subject folder
// id plus one id per unit folder.
type SubjectFolders struct {
	ID    string            `json:"id"`
	Units map[string]string `json:"units"`
}

// UnmarshalJSON accepts either the {"id":...,"units":{...}} structure or a
// bare folder-id string. Early records stored utility subjects as bare ids.
func (s *SubjectFolders) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		s.ID = bare
		s.Units = nil
		return nil
	}

	type alias SubjectFolders
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*s = SubjectFolders(full)
	return nil
}

// FolderMap maps subject names to their provisioned Drive folders.
// Entries are append-only once a user is ACTIVE.
type FolderMap map[string]SubjectFolders

// Names projects the map down to subject -> unit names, stripping folder ids.
// The oracles reason over human labels only.
func (m FolderMap) Names() map[string][]string {
	names := make(map[string][]string, len(m))
	for subject, folders := range m {
		units := make([]string, 0, len(folders.Units))
		for unit := range folders.Units {
			units = append(units, unit)
		}
		names[subject] = units
	}
	return names
}

// DecodeJSONField unmarshals a persisted JSON column into out, tolerating a
// value that was double-encoded as a JSON string. Both representations exist
// in the wild and must behave identically.
func DecodeJSONField(raw []byte, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	directErr := json.Unmarshal(raw, out)
	if directErr == nil {
		return nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if encoded == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(encoded), out); err != nil {
			return fmt.Errorf("failed to decode double-encoded field: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to decode field: %w", directErr)
}

// Syllabus returns the decoded syllabus draft, empty when absent or unreadable.
func (u *User) Syllabus() (Syllabus, error) {
	draft := Syllabus{}
	if err := DecodeJSONField(u.SyllabusDraft, &draft); err != nil {
		return Syllabus{}, err
	}
	return draft, nil
}

// Folders returns the decoded folder map, empty when absent or unreadable.
func (u *User) Folders() (FolderMap, error) {
	folders := FolderMap{}
	if err := DecodeJSONField(u.FolderMap, &folders); err != nil {
		return FolderMap{}, err
	}
	return folders, nil
}
