package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiagent/pkg/proto"
)

const serverSource = `package com.example;

import java.util.List;

public class Server {
    public void start() {
        run();
    }
}
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func writeFile(t *testing.T, store *Store, rel, content string) {
	t.Helper()
	abs := filepath.Join(store.Root(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestOpenLoadsExistingFile(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "src/Server.java", serverSource)

	doc, err := store.Open("src/Server.java")
	require.NoError(t, err)
	assert.Equal(t, serverSource, doc.Content())
	assert.Equal(t, []string{"src/Server.java"}, store.OpenPaths())
}

func TestOpenCreatesMissingFile(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.Open("src/com/example/New.java")
	require.NoError(t, err)
	assert.Equal(t, "", doc.Content())

	_, err = os.Stat(filepath.Join(store.Root(), "src/com/example/New.java"))
	assert.NoError(t, err)
}

func TestOpenRejectsEscapingPaths(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Open("../outside.java")
	assert.Error(t, err)
}

func TestAddMethod(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:        proto.EditAddMethod,
		TargetFile:  "Server.java",
		TargetClass: "Server",
		MethodName:  "stop",
		MethodBody:  "        running = false;",
	})

	require.Equal(t, proto.EditStatusCompleted, result.Status, result.Error)
	assert.Contains(t, result.InsertedText, "public void stop()")
	assert.Contains(t, result.Diff, "+    public void stop() {")

	doc, _ := store.Open("Server.java")
	content := doc.Content()
	assert.Contains(t, content, "stop()")
	// The method lands inside the class, before the closing brace.
	assert.Less(t, strings.Index(content, "stop()"), strings.LastIndex(content, "}"))

	// Persisted to disk.
	data, err := os.ReadFile(filepath.Join(store.Root(), "Server.java"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "stop()")
}

func TestAddMethodValidation(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	missingClass := store.ApplyEdit(&proto.EditDescriptor{
		Kind:        proto.EditAddMethod,
		TargetFile:  "Server.java",
		TargetClass: "Missing",
		MethodName:  "stop",
	})
	assert.Equal(t, proto.EditStatusError, missingClass.Status)
	assert.Contains(t, missingClass.Error, "target class not found")

	duplicate := store.ApplyEdit(&proto.EditDescriptor{
		Kind:        proto.EditAddMethod,
		TargetFile:  "Server.java",
		TargetClass: "Server",
		MethodName:  "start",
	})
	assert.Equal(t, proto.EditStatusError, duplicate.Status)
	assert.Contains(t, duplicate.Error, "method already exists")
}

func TestModifyMethod(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:          proto.EditModifyMethod,
		TargetFile:    "Server.java",
		TargetClass:   "Server",
		MethodName:    "start",
		NewMethodBody: "init();",
	})

	require.Equal(t, proto.EditStatusCompleted, result.Status, result.Error)
	assert.Contains(t, result.OriginalText, "run();")
	assert.Contains(t, result.NewText, "init();")

	doc, _ := store.Open("Server.java")
	assert.Contains(t, doc.Content(), "init();")
	assert.NotContains(t, doc.Content(), "run();")
}

func TestModifyMethodNotFound(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:          proto.EditModifyMethod,
		TargetFile:    "Server.java",
		TargetClass:   "Server",
		MethodName:    "missing",
		NewMethodBody: "x();",
	})
	assert.Equal(t, proto.EditStatusError, result.Status)
	assert.Contains(t, result.Error, "target method not found")
}

func TestAddClassToEmptyFileWritesPackageHeader(t *testing.T) {
	store := newTestStore(t)

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:       proto.EditAddClass,
		TargetFile: "src/main/java/com/example/Helper.java",
		ClassName:  "Helper",
		ClassBody:  "    private int count;",
	})

	require.Equal(t, proto.EditStatusCompleted, result.Status, result.Error)
	doc, _ := store.Open("src/main/java/com/example/Helper.java")
	content := doc.Content()
	assert.True(t, strings.HasPrefix(content, "package com.example;\n"), content)
	assert.Contains(t, content, "public class Helper {")
}

func TestAddClassDuplicate(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:       proto.EditAddClass,
		TargetFile: "Server.java",
		ClassName:  "Server",
	})
	assert.Equal(t, proto.EditStatusError, result.Status)
	assert.Contains(t, result.Error, "class already exists")
}

func TestAddClassAppendsToExistingFile(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:       proto.EditAddClass,
		TargetFile: "Server.java",
		ClassName:  "Helper",
	})
	require.Equal(t, proto.EditStatusCompleted, result.Status, result.Error)

	doc, _ := store.Open("Server.java")
	assert.Contains(t, doc.Content(), "public class Server")
	assert.Contains(t, doc.Content(), "public class Helper")
}

func TestAddImport(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:       proto.EditAddImport,
		TargetFile: "Server.java",
		Import:     "java.util.Map",
	})
	require.Equal(t, proto.EditStatusCompleted, result.Status, result.Error)

	doc, _ := store.Open("Server.java")
	content := doc.Content()
	assert.Contains(t, content, "import java.util.Map;")
	// New import sits with the existing import block, before the class.
	assert.Less(t, strings.Index(content, "import java.util.Map;"), strings.Index(content, "public class"))
}

func TestAddImportAlreadyPresent(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:       proto.EditAddImport,
		TargetFile: "Server.java",
		Import:     "java.util.List",
	})
	assert.Equal(t, proto.EditStatusSkipped, result.Status)
	assert.Equal(t, "Import already exists", result.Reason)
	assert.Empty(t, result.Diff)
}

func TestReplaceText(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "notes.java", "hello world")

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:        proto.EditReplaceText,
		TargetFile:  "notes.java",
		StartOffset: 6,
		EndOffset:   11,
		NewText:     "there",
	})
	require.Equal(t, proto.EditStatusCompleted, result.Status, result.Error)
	assert.Equal(t, "world", result.OriginalText)

	doc, _ := store.Open("notes.java")
	assert.Equal(t, "hello there", doc.Content())
}

func TestReplaceTextInvalidRange(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "notes.java", "hello")

	result := store.ApplyEdit(&proto.EditDescriptor{
		Kind:        proto.EditReplaceText,
		TargetFile:  "notes.java",
		StartOffset: 2,
		EndOffset:   99,
		NewText:     "x",
	})
	assert.Equal(t, proto.EditStatusError, result.Status)
	assert.Contains(t, result.Error, "invalid text range")
}

func TestEditOrderImportThenMethod(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Foo.java", "public class Foo {\n}\n")

	importResult := store.ApplyEdit(&proto.EditDescriptor{
		Kind:       proto.EditAddImport,
		TargetFile: "Foo.java",
		Import:     "a.B",
	})
	require.Equal(t, proto.EditStatusCompleted, importResult.Status, importResult.Error)

	methodResult := store.ApplyEdit(&proto.EditDescriptor{
		Kind:        proto.EditAddMethod,
		TargetFile:  "Foo.java",
		TargetClass: "Foo",
		MethodName:  "m",
	})
	require.Equal(t, proto.EditStatusCompleted, methodResult.Status, methodResult.Error)

	doc, _ := store.Open("Foo.java")
	content := doc.Content()
	importIdx := strings.Index(content, "import a.B;")
	classIdx := strings.Index(content, "public class Foo")
	methodIdx := strings.Index(content, "public void m()")
	closingIdx := strings.LastIndex(content, "}")
	require.NotEqual(t, -1, importIdx)
	assert.Less(t, importIdx, classIdx)
	assert.Less(t, classIdx, methodIdx)
	assert.Less(t, methodIdx, closingIdx)
}

func TestChangeEventsEmitted(t *testing.T) {
	store := newTestStore(t)
	writeFile(t, store, "Server.java", serverSource)

	var events []ChangeEvent
	store.OnChange(func(e ChangeEvent) { events = append(events, e) })

	store.ApplyEdit(&proto.EditDescriptor{
		Kind:       proto.EditAddImport,
		TargetFile: "Server.java",
		Import:     "java.util.Map",
	})

	require.Len(t, events, 1)
	assert.Equal(t, "Server.java", events[0].FilePath)
	assert.Contains(t, events[0].NewFragment, "java.util.Map")
	assert.False(t, events[0].External)
}
