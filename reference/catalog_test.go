package reference

import (
	"testing"

	"github.com/dannyswat/htmlstage"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	tests := []struct {
		tag     string
		attrs   map[string]string
		content string
	}{
		{"a", map[string]string{"href": "#"}, "Link"},
		{"A", map[string]string{"href": "#"}, "Link"},
		{"video", map[string]string{"src": "video.mp4", "controls": ""}, ""},
		{"div", nil, ""},
		{"#text", nil, "Text"},
		{"!DOCTYPE", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			info, ok := c.ElementInfo(tt.tag)
			if !ok {
				t.Fatalf("%s not in catalog", tt.tag)
			}
			if len(info.Attrs) != len(tt.attrs) {
				t.Fatalf("attrs = %v, want %v", info.Attrs, tt.attrs)
			}
			for _, a := range info.Attrs {
				if want, ok := tt.attrs[a.Key]; !ok || want != a.Val {
					t.Errorf("attr %s=%q unexpected", a.Key, a.Val)
				}
			}
			if info.DefaultContent != tt.content {
				t.Errorf("content = %q, want %q", info.DefaultContent, tt.content)
			}
		})
	}

	if _, ok := c.ElementInfo("blink-tag"); ok {
		t.Error("unknown tag found")
	}
}

func TestElementInfoReturnsCopy(t *testing.T) {
	c := Default()
	info, _ := c.ElementInfo("a")
	info.Attrs[0].Val = "changed"
	again, _ := c.ElementInfo("a")
	if again.Attrs[0].Val != "#" {
		t.Errorf("catalog mutated through a returned template: %q", again.Attrs[0].Val)
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("elements: [")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestCatalogDrivesAddNode(t *testing.T) {
	res := htmlstage.AddNode(htmlstage.NewTree(), htmlstage.NewAllocator(0), Default(), "", "button")
	text, err := htmlstage.HTMLParser{}.Serialize(res.Tree)
	if err != nil {
		t.Fatal(err)
	}
	if text != `<button type="button">Button</button>` {
		t.Errorf("serialized = %q", text)
	}
}
