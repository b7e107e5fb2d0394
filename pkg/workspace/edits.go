package workspace

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"multiagent/pkg/analysis"
	"multiagent/pkg/proto"
)

// ErrValidation marks edit failures caused by the edit itself (missing
// target, duplicate, bad range) rather than by resource access.
var ErrValidation = errors.New("edit validation failed")

// ApplyEdit validates and applies one edit under the target document's
// exclusive lock, persists on success, and emits a change event. The result
// always comes back; failures are reported through its status, never by
// panicking into the caller's batch.
func (s *Store) ApplyEdit(edit *proto.EditDescriptor) *proto.EditResult {
	result := &proto.EditResult{
		Edit:     *edit,
		FilePath: edit.TargetFile,
		Status:   proto.EditStatusCompleted,
	}

	if err := edit.Validate(); err != nil {
		return failed(result, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	doc, err := s.Open(edit.TargetFile)
	if err != nil {
		return failed(result, err)
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	before := doc.content
	var applyErr error
	switch edit.Kind {
	case proto.EditAddMethod:
		applyErr = s.addMethod(doc, edit, result)
	case proto.EditModifyMethod:
		applyErr = s.modifyMethod(doc, edit, result)
	case proto.EditAddClass:
		applyErr = s.addClass(doc, edit, result)
	case proto.EditAddImport:
		applyErr = s.addImport(doc, edit, result)
	case proto.EditReplaceText:
		applyErr = s.replaceText(doc, edit, result)
	}
	if applyErr != nil {
		return failed(result, applyErr)
	}

	if result.Status == proto.EditStatusSkipped {
		return result
	}

	if err := s.save(doc); err != nil {
		doc.content = before
		return failed(result, err)
	}

	result.Diff = unifiedDiff(edit.TargetFile, before, doc.content)
	s.logger.Info("Applied %s to %s", edit.Kind, edit.TargetFile)

	newFragment := result.InsertedText
	if newFragment == "" {
		newFragment = result.NewText
	}
	s.emit(ChangeEvent{
		FilePath:    edit.TargetFile,
		Offset:      result.InsertPosition,
		OldFragment: result.OriginalText,
		NewFragment: newFragment,
		Timestamp:   time.Now(),
	})
	return result
}

func (s *Store) addMethod(doc *Document, edit *proto.EditDescriptor, result *proto.EditResult) error {
	if !isJava(doc.path) {
		return fmt.Errorf("%w: %s is not a Java file", ErrValidation, doc.path)
	}
	_, classClose, ok := analysis.ClassBodyRange(doc.content, edit.TargetClass)
	if !ok {
		return fmt.Errorf("%w: target class not found: %s", ErrValidation, edit.TargetClass)
	}
	if analysis.HasMethod(doc.content, edit.TargetClass, edit.MethodName) {
		return fmt.Errorf("%w: method already exists: %s", ErrValidation, edit.MethodName)
	}

	returnType := edit.ReturnType
	if returnType == "" {
		returnType = "void"
	}
	methodText := "public " + returnType + " " + edit.MethodName + "() {\n" +
		edit.MethodBody + "\n" +
		"}"

	doc.content = doc.content[:classClose] + "\n\n    " + methodText + "\n" + doc.content[classClose:]
	result.InsertPosition = classClose
	result.InsertedText = methodText
	return nil
}

func (s *Store) modifyMethod(doc *Document, edit *proto.EditDescriptor, result *proto.EditResult) error {
	if !isJava(doc.path) {
		return fmt.Errorf("%w: %s is not a Java file", ErrValidation, doc.path)
	}
	if !analysis.HasClass(doc.content, edit.TargetClass) {
		return fmt.Errorf("%w: target class not found: %s", ErrValidation, edit.TargetClass)
	}
	open, closing, ok := analysis.MethodBodyRange(doc.content, edit.TargetClass, edit.MethodName)
	if !ok {
		return fmt.Errorf("%w: target method not found: %s", ErrValidation, edit.MethodName)
	}

	original := doc.content[open : closing+1]
	replacement := "{\n        " + edit.NewMethodBody + "\n    }"
	doc.content = doc.content[:open] + replacement + doc.content[closing+1:]

	result.InsertPosition = open
	result.OriginalText = original
	result.NewText = replacement
	return nil
}

func (s *Store) addClass(doc *Document, edit *proto.EditDescriptor, result *proto.EditResult) error {
	if !isJava(doc.path) {
		return fmt.Errorf("%w: %s is not a Java file", ErrValidation, doc.path)
	}
	if analysis.HasClass(doc.content, edit.ClassName) {
		return fmt.Errorf("%w: class already exists: %s", ErrValidation, edit.ClassName)
	}

	classText := "public class " + edit.ClassName + " {\n" +
		edit.ClassBody + "\n" +
		"}"

	if strings.TrimSpace(doc.content) == "" {
		header := ""
		if pkg := packageForPath(doc.path); pkg != "" {
			header = "package " + pkg + ";\n\n"
		}
		result.InsertPosition = len(header)
		doc.content = header + classText + "\n"
	} else {
		result.InsertPosition = len(doc.content)
		doc.content = doc.content + "\n\n" + classText + "\n"
	}
	result.InsertedText = classText
	return nil
}

func (s *Store) addImport(doc *Document, edit *proto.EditDescriptor, result *proto.EditResult) error {
	if !isJava(doc.path) {
		return fmt.Errorf("%w: %s is not a Java file", ErrValidation, doc.path)
	}
	if analysis.HasImport(doc.content, edit.Import) {
		result.Status = proto.EditStatusSkipped
		result.Reason = "Import already exists"
		return nil
	}

	offset := analysis.ImportInsertOffset(doc.content)
	importText := "import " + edit.Import + ";\n"
	doc.content = doc.content[:offset] + importText + doc.content[offset:]

	result.InsertPosition = offset
	result.InsertedText = importText
	return nil
}

func (s *Store) replaceText(doc *Document, edit *proto.EditDescriptor, result *proto.EditResult) error {
	if edit.StartOffset < 0 || edit.EndOffset > len(doc.content) || edit.StartOffset > edit.EndOffset {
		return fmt.Errorf("%w: invalid text range: %d-%d", ErrValidation, edit.StartOffset, edit.EndOffset)
	}

	original := doc.content[edit.StartOffset:edit.EndOffset]
	doc.content = doc.content[:edit.StartOffset] + edit.NewText + doc.content[edit.EndOffset:]

	result.InsertPosition = edit.StartOffset
	result.OriginalText = original
	result.NewText = edit.NewText
	return nil
}

func failed(result *proto.EditResult, err error) *proto.EditResult {
	result.Status = proto.EditStatusError
	result.Error = err.Error()
	return result
}

func unifiedDiff(filePath, before, after string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: filePath,
		ToFile:   filePath,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

func isJava(p string) bool {
	return strings.HasSuffix(p, ".java")
}

// packageForPath derives a Java package name from a file's directory,
// dropping conventional source-root prefixes.
func packageForPath(relPath string) string {
	dir := path.Dir(relPath)
	if dir == "." || dir == "/" {
		return ""
	}
	for _, prefix := range []string{"src/main/java/", "src/test/java/", "src/"} {
		if strings.HasPrefix(dir+"/", prefix) {
			dir = strings.TrimPrefix(dir+"/", prefix)
			dir = strings.TrimSuffix(dir, "/")
			break
		}
	}
	if dir == "" || dir == "." {
		return ""
	}
	return strings.ReplaceAll(dir, "/", ".")
}
