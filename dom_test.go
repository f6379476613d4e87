package htmlstage

import (
	"errors"
	"testing"
)

func TestPathing(t *testing.T) {
	htmlStr := `<html><head></head><body><div><p>Hello</p></div></body></html>`
	doc, err := ParseHTML(htmlStr)
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}

	// root -> html (0) -> body (1) -> div (0) -> p (0) -> text "Hello" (0)
	targetPath := NodePath{0, 1, 0, 0, 0}

	node, err := GetNode(doc, targetPath)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}

	text, ok := node.Data.(*TextData)
	if !ok {
		t.Fatalf("Expected text node, got %s", node.Name)
	}
	if text.Text != "Hello" {
		t.Errorf("Expected node data 'Hello', got '%s'", text.Text)
	}

	path, err := GetPath(doc, node.UID)
	if err != nil {
		t.Fatalf("GetPath failed: %v", err)
	}
	if path.String() != targetPath.String() {
		t.Errorf("Path mismatch. Got %v, want %v", path, targetPath)
	}
}

func TestGetNodeOutOfRange(t *testing.T) {
	doc, err := ParseHTML(`<div></div>`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := GetNode(doc, NodePath{0, 3}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNode past the last child: got %v, want ErrNotFound", err)
	}
	root, err := GetNode(doc, nil)
	if err != nil || root.UID != RootUID {
		t.Errorf("empty path should name the root, got %v, %v", root, err)
	}
}

func TestNodeAt(t *testing.T) {
	doc, err := ParseHTML("<div>\n  <p>Hi</p>\n</div>")
	if err != nil {
		t.Fatal(err)
	}
	// div=1 "\n  "=2 p=3 "Hi"=4 "\n"=5
	tests := []struct {
		name      string
		line, col int
		want      UID
	}{
		{"inside text", 2, 7, "4"},
		{"on start tag", 2, 3, "3"},
		{"whitespace belongs to the container", 2, 1, "1"},
		{"closing tag", 3, 2, "1"},
		{"right after the p element", 2, 12, "1"},
		{"past the end", 9, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NodeAt(doc, tt.line, tt.col); got != tt.want {
				t.Errorf("NodeAt(%d, %d) = %q, want %q", tt.line, tt.col, got, tt.want)
			}
		})
	}
}
