// Package analysis extracts the structural outline of Java source files:
// package, imports, top-level classes, and their methods. It is a
// lightweight lexical pass, not a full parser; it exists to feed design
// planning, observation heuristics, and edit validation, all of which
// tolerate approximate structure.
package analysis

import (
	"path/filepath"
	"regexp"
	"strings"

	"multiagent/pkg/proto"
)

var (
	packageRe = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`)
	importRe  = regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.]+(?:\.\*)?)\s*;`)
	classRe   = regexp.MustCompile(`(?m)^[ \t]*(?:(?:public|protected|private|abstract|final|static)\s+)*class\s+(\w+)[^{]*\{`)
	methodRe  = regexp.MustCompile(`(?m)^[ \t]*((?:(?:public|protected|private|abstract|final|static|synchronized|native)\s+)*)([\w<>\[\],. ]+?)\s+(\w+)\s*\(([^)]*)\)\s*(?:throws\s+[\w.,\s]+)?\{`)
)

// Control keywords that the method pattern can false-match on.
var nonMethodNames = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true,
	"catch": true, "return": true, "new": true, "do": true,
	"else": true, "try": true, "synchronized": true,
}

// Analyze builds a structural summary of one source file. Non-Java files get
// an empty element list; callers decide whether that matters.
func Analyze(filePath, content string) *proto.FileAnalysis {
	fa := &proto.FileAnalysis{
		FilePath: filePath,
		FileType: fileType(filePath),
		Elements: []proto.ClassInfo{},
	}
	if fa.FileType != "JAVA" {
		return fa
	}

	if m := packageRe.FindStringSubmatch(content); m != nil {
		fa.PackageName = m[1]
	}
	for _, m := range importRe.FindAllStringSubmatch(content, -1) {
		fa.Imports = append(fa.Imports, m[1])
	}

	for _, loc := range classRe.FindAllStringSubmatchIndex(content, -1) {
		name := content[loc[2]:loc[3]]
		open := strings.LastIndexByte(content[loc[0]:loc[1]], '{') + loc[0]
		closing := matchBrace(content, open)
		if closing < 0 {
			continue
		}

		info := proto.ClassInfo{
			Type:       "class",
			Name:       name,
			Documented: hasDocComment(content, loc[0]),
			Methods:    parseMethods(content[open+1 : closing]),
		}
		if fa.PackageName != "" {
			info.QualifiedName = fa.PackageName + "." + name
		} else {
			info.QualifiedName = name
		}
		fa.Elements = append(fa.Elements, info)
	}
	return fa
}

func parseMethods(body string) []proto.MethodInfo {
	methods := []proto.MethodInfo{}
	for _, loc := range methodRe.FindAllStringSubmatchIndex(body, -1) {
		modifiers := strings.TrimSpace(slice(body, loc, 1))
		returnType := strings.TrimSpace(slice(body, loc, 2))
		name := slice(body, loc, 3)
		params := strings.TrimSpace(slice(body, loc, 4))

		if nonMethodNames[name] || nonMethodNames[returnType] {
			continue
		}
		// A lone identifier before the paren means a constructor or a
		// control statement, not a typed method; keep constructors out.
		if returnType == "" {
			continue
		}

		open := strings.LastIndexByte(body[loc[0]:loc[1]], '{') + loc[0]
		closing := matchBrace(body, open)
		bodyLines := 0
		if closing > open {
			bodyLines = strings.Count(body[open:closing], "\n")
		}

		methods = append(methods, proto.MethodInfo{
			Name:       name,
			ReturnType: returnType,
			Parameters: countParams(params),
			BodyLines:  bodyLines,
			Exported:   strings.Contains(modifiers, "public"),
			Documented: hasDocComment(body, loc[0]),
		})
	}
	return methods
}

// slice extracts a submatch group from FindAllStringSubmatchIndex output.
func slice(s string, loc []int, group int) string {
	start, end := loc[2*group], loc[2*group+1]
	if start < 0 {
		return ""
	}
	return s[start:end]
}

func countParams(params string) int {
	if params == "" {
		return 0
	}
	depth, count := 0, 1
	for _, r := range params {
		switch r {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case ',':
			if depth == 0 {
				count++
			}
		}
	}
	return count
}

// hasDocComment reports whether the text right before offset ends a block
// comment.
func hasDocComment(content string, offset int) bool {
	return strings.HasSuffix(strings.TrimSpace(content[:offset]), "*/")
}

// matchBrace returns the offset of the brace closing the one at open, or -1.
func matchBrace(content string, open int) int {
	if open < 0 || open >= len(content) || content[open] != '{' {
		return -1
	}
	depth := 0
	for i := open; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func fileType(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(ext)
}

// HasClass reports whether content declares a top-level class with the name.
func HasClass(content, className string) bool {
	_, _, ok := ClassBodyRange(content, className)
	return ok
}

// ClassBodyRange locates the braces delimiting a class body. The returned
// offsets point at the opening and closing brace characters.
func ClassBodyRange(content, className string) (open, closing int, ok bool) {
	for _, loc := range classRe.FindAllStringSubmatchIndex(content, -1) {
		if content[loc[2]:loc[3]] != className {
			continue
		}
		open = strings.LastIndexByte(content[loc[0]:loc[1]], '{') + loc[0]
		closing = matchBrace(content, open)
		if closing < 0 {
			return 0, 0, false
		}
		return open, closing, true
	}
	return 0, 0, false
}

// HasMethod reports whether the named class declares the named method.
func HasMethod(content, className, methodName string) bool {
	_, _, ok := MethodBodyRange(content, className, methodName)
	return ok
}

// MethodBodyRange locates the braces delimiting a method body inside the
// named class. Offsets are relative to the whole content.
func MethodBodyRange(content, className, methodName string) (open, closing int, ok bool) {
	classOpen, classClose, found := ClassBodyRange(content, className)
	if !found {
		return 0, 0, false
	}
	body := content[classOpen+1 : classClose]
	for _, loc := range methodRe.FindAllStringSubmatchIndex(body, -1) {
		if body[loc[6]:loc[7]] != methodName {
			continue
		}
		open = strings.LastIndexByte(body[loc[0]:loc[1]], '{') + loc[0]
		closing = matchBrace(body, open)
		if closing < 0 {
			return 0, 0, false
		}
		return open + classOpen + 1, closing + classOpen + 1, true
	}
	return 0, 0, false
}

// HasImport reports whether content already imports the path.
func HasImport(content, importPath string) bool {
	for _, m := range importRe.FindAllStringSubmatch(content, -1) {
		if m[1] == importPath {
			return true
		}
	}
	return false
}

// ImportInsertOffset returns where a new import statement belongs: after the
// last existing import, else after the package statement, else the top of
// the file.
func ImportInsertOffset(content string) int {
	if locs := importRe.FindAllStringIndex(content, -1); len(locs) > 0 {
		return lineEnd(content, locs[len(locs)-1][1])
	}
	if loc := packageRe.FindStringIndex(content); loc != nil {
		return lineEnd(content, loc[1])
	}
	return 0
}

// lineEnd advances past the end of the line containing offset.
func lineEnd(content string, offset int) int {
	if i := strings.IndexByte(content[offset:], '\n'); i >= 0 {
		return offset + i + 1
	}
	return len(content)
}
