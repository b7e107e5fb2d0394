package proto

import (
	"fmt"
	"strings"
)

// EditKind identifies one kind of code mutation.
type EditKind string

const (
	EditAddMethod    EditKind = "ADD_METHOD"
	EditModifyMethod EditKind = "MODIFY_METHOD"
	EditAddClass     EditKind = "ADD_CLASS"
	EditAddImport    EditKind = "ADD_IMPORT"
	EditReplaceText  EditKind = "REPLACE_TEXT"
)

// ValidateEditKind validates if a string is a supported edit kind.
func ValidateEditKind(kind string) (EditKind, bool) {
	switch EditKind(kind) {
	case EditAddMethod, EditModifyMethod, EditAddClass, EditAddImport, EditReplaceText:
		return EditKind(kind), true
	default:
		return "", false
	}
}

// ParseEditKind parses a string into an EditKind with validation.
func ParseEditKind(s string) (EditKind, error) {
	if kind, valid := ValidateEditKind(strings.ToUpper(s)); valid {
		return kind, nil
	}
	return "", fmt.Errorf("unknown edit kind: %s", s)
}

func (k EditKind) String() string {
	return string(k)
}

// EditDescriptor is a typed instruction for one code mutation. Kind selects
// the variant; only the fields that variant needs are set.
type EditDescriptor struct {
	Kind       EditKind `json:"kind"`
	TargetFile string   `json:"target_file"`

	// ADD_METHOD / MODIFY_METHOD.
	TargetClass string `json:"target_class,omitempty"`
	MethodName  string `json:"method_name,omitempty"`
	MethodBody  string `json:"method_body,omitempty"`
	ReturnType  string `json:"return_type,omitempty"`

	// MODIFY_METHOD replacement body.
	NewMethodBody string `json:"new_method_body,omitempty"`

	// ADD_CLASS.
	ClassName string `json:"class_name,omitempty"`
	ClassBody string `json:"class_body,omitempty"`

	// ADD_IMPORT.
	Import string `json:"import,omitempty"`

	// REPLACE_TEXT.
	StartOffset int    `json:"start_offset,omitempty"`
	EndOffset   int    `json:"end_offset,omitempty"`
	NewText     string `json:"new_text,omitempty"`
}

// Validate checks that the descriptor carries the fields its kind requires.
// Target existence is checked against the document at apply time.
func (e *EditDescriptor) Validate() error {
	if _, valid := ValidateEditKind(string(e.Kind)); !valid {
		return fmt.Errorf("unsupported edit kind: %s", e.Kind)
	}
	if e.TargetFile == "" {
		return fmt.Errorf("%s edit requires target_file", e.Kind)
	}
	switch e.Kind {
	case EditAddMethod:
		if e.TargetClass == "" || e.MethodName == "" {
			return fmt.Errorf("ADD_METHOD edit requires target_class and method_name")
		}
	case EditModifyMethod:
		if e.TargetClass == "" || e.MethodName == "" {
			return fmt.Errorf("MODIFY_METHOD edit requires target_class and method_name")
		}
	case EditAddClass:
		if e.ClassName == "" {
			return fmt.Errorf("ADD_CLASS edit requires class_name")
		}
	case EditAddImport:
		if e.Import == "" {
			return fmt.Errorf("ADD_IMPORT edit requires import")
		}
	case EditReplaceText:
		if e.StartOffset < 0 || e.EndOffset < e.StartOffset {
			return fmt.Errorf("REPLACE_TEXT edit has invalid range %d-%d", e.StartOffset, e.EndOffset)
		}
	}
	return nil
}

// EditStatus is the per-edit outcome reported after an apply attempt.
type EditStatus string

const (
	EditStatusCompleted EditStatus = "completed"
	EditStatusSkipped   EditStatus = "skipped"
	EditStatusError     EditStatus = "error"
)

// EditResult records the outcome of applying one edit. Error edits carry the
// failure reason; completed edits carry the mutation details and a unified
// diff of the document.
type EditResult struct {
	Edit     EditDescriptor `json:"edit"`
	FilePath string         `json:"file_path"`
	Status   EditStatus     `json:"status"`
	Error    string         `json:"error,omitempty"`
	Reason   string         `json:"reason,omitempty"`

	InsertPosition int    `json:"insert_position,omitempty"`
	InsertedText   string `json:"inserted_text,omitempty"`
	OriginalText   string `json:"original_text,omitempty"`
	NewText        string `json:"new_text,omitempty"`
	Diff           string `json:"diff,omitempty"`
}

// MethodInfo describes one method found in a source file.
type MethodInfo struct {
	Name       string `json:"name"`
	ReturnType string `json:"return_type"`
	Parameters int    `json:"parameters"`
	BodyLines  int    `json:"body_lines,omitempty"`
	Exported   bool   `json:"exported,omitempty"`
	Documented bool   `json:"documented,omitempty"`
}

// ClassInfo describes one top-level class found in a source file.
type ClassInfo struct {
	Type          string       `json:"type"` // always "class" for now
	Name          string       `json:"name"`
	QualifiedName string       `json:"qualified_name,omitempty"`
	Documented    bool         `json:"documented,omitempty"`
	Methods       []MethodInfo `json:"methods"`
}

// FileAnalysis is the structural summary of one source file.
type FileAnalysis struct {
	FilePath    string      `json:"file_path"`
	FileType    string      `json:"file_type"`
	PackageName string      `json:"package_name,omitempty"`
	Imports     []string    `json:"imports,omitempty"`
	Elements    []ClassInfo `json:"elements"`
}

// DesignPlan is the architect's structured output for one task.
type DesignPlan struct {
	TaskID                       string           `json:"task_id"`
	Description                  string           `json:"description"`
	FileAnalysis                 []FileAnalysis   `json:"file_analysis"`
	RequiredChanges              []EditDescriptor `json:"required_changes"`
	ArchitecturalRecommendations []string         `json:"architectural_recommendations"`
	// DependencyGraph[i] lists the labels of the changes change i depends
	// on. Each change depends on all changes before it, so the "graph" is a
	// linear chain.
	DependencyGraph  [][]string `json:"dependency_graph"`
	ObserverFeedback []string   `json:"observer_feedback,omitempty"`
	Refined          bool       `json:"refined,omitempty"`
	RefinementNotes  []string   `json:"refinement_notes,omitempty"`
}

// ChangeLabel is the identifier of a required change inside a dependency
// chain: "<kind>-<index>".
func ChangeLabel(change *EditDescriptor, index int) string {
	return fmt.Sprintf("%s-%d", change.Kind, index)
}
