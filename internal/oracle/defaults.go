package oracle

import (
	"bytes"
	_ "embed"
	"log"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsManifest []byte

// UtilitySubject is one entry of the fixed folder set every user receives on
// top of whatever their syllabus contains.
type UtilitySubject struct {
	Name      string   `yaml:"name"`
	Units     []string `yaml:"units"`
	SetupOnly bool     `yaml:"setup_only"`
}

type defaultsFile struct {
	Subjects []UtilitySubject `yaml:"subjects"`
}

var defaults defaultsFile

func init() {
	decoder := yaml.NewDecoder(bytes.NewReader(defaultsManifest))
	decoder.KnownFields(true)
	if err := decoder.Decode(&defaults); err != nil {
		// The manifest is compiled in; a parse failure is a build defect.
		log.Fatalf("invalid defaults.yaml manifest: %v", err)
	}
}

// UtilitySubjects returns the subjects injected into every successful
// syllabus extraction.
func UtilitySubjects() []UtilitySubject {
	var out []UtilitySubject
	for _, s := range defaults.Subjects {
		if !s.SetupOnly {
			out = append(out, s)
		}
	}
	return out
}

// SetupSubjects returns the full default set injected on first-time
// provisioning, including the catch-all folders.
func SetupSubjects() []UtilitySubject {
	return defaults.Subjects
}
