package parser

import (
	"reflect"
	"testing"
)

func TestProjectPath(t *testing.T) {
	tests := []struct {
		name          string
		href          string
		wantWorkspace string
		wantProject   string
		wantErr       bool
	}{
		{
			name:          "relative link",
			href:          "/acme-vision/bottle-detection",
			wantWorkspace: "acme-vision",
			wantProject:   "bottle-detection",
		},
		{
			name:          "absolute link",
			href:          "https://universe.roboflow.com/acme-vision/bottle-detection",
			wantWorkspace: "acme-vision",
			wantProject:   "bottle-detection",
		},
		{
			name:          "trailing slash",
			href:          "/acme-vision/bottle-detection/",
			wantWorkspace: "acme-vision",
			wantProject:   "bottle-detection",
		},
		{
			name:          "query string",
			href:          "/acme-vision/bottle-detection?ref=search",
			wantWorkspace: "acme-vision",
			wantProject:   "bottle-detection",
		},
		{
			name:    "single segment",
			href:    "/search",
			wantErr: true,
		},
		{
			name:    "empty link",
			href:    "",
			wantErr: true,
		},
		{
			name:    "bare host",
			href:    "https://universe.roboflow.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workspace, project, err := ProjectPath(tt.href)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ProjectPath(%q) error = %v, wantErr %v", tt.href, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if workspace != tt.wantWorkspace || project != tt.wantProject {
				t.Fatalf("ProjectPath(%q) = (%q, %q), want (%q, %q)",
					tt.href, workspace, project, tt.wantWorkspace, tt.wantProject)
			}
		})
	}
}

func TestImageCount(t *testing.T) {
	tests := []struct {
		name    string
		details string
		want    *int
	}{
		{
			name:    "plain count",
			details: "215 images",
			want:    intPtr(215),
		},
		{
			name:    "thousands separator",
			details: "1,234 images",
			want:    intPtr(1234),
		},
		{
			name:    "singular label",
			details: "1 image",
			want:    intPtr(1),
		},
		{
			name:    "mixed details blob",
			details: "1,234 images - 3 models",
			want:    intPtr(1234),
		},
		{
			name:    "no numeric text",
			details: "images coming soon",
			want:    nil,
		},
		{
			name:    "empty blob",
			details: "",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ImageCount(tt.details)
			if !equalIntPtr(got, tt.want) {
				t.Fatalf("ImageCount(%q) = %v, want %v", tt.details, fmtIntPtr(got), fmtIntPtr(tt.want))
			}
		})
	}
}

func TestModelCount(t *testing.T) {
	if got := ModelCount("1,234 images - 3 models"); !equalIntPtr(got, intPtr(3)) {
		t.Fatalf("ModelCount = %v, want 3", fmtIntPtr(got))
	}
	if got := ModelCount("1,234 images"); got != nil {
		t.Fatalf("ModelCount = %v, want nil", fmtIntPtr(got))
	}
}

func TestClasses(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want []string
	}{
		{
			name: "comma delimited",
			blob: "bottle, cap, label",
			want: []string{"bottle", "cap", "label"},
		},
		{
			name: "extra whitespace and empties",
			blob: " bottle ,, cap ,",
			want: []string{"bottle", "cap"},
		},
		{
			name: "empty blob",
			blob: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classes(tt.blob); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Classes(%q) = %v, want %v", tt.blob, got, tt.want)
			}
		})
	}
}

func TestCleanAuthor(t *testing.T) {
	if got := CleanAuthor("by Acme Vision "); got != "Acme Vision" {
		t.Fatalf("CleanAuthor = %q, want %q", got, "Acme Vision")
	}
	if got := CleanAuthor("Acme Vision"); got != "Acme Vision" {
		t.Fatalf("CleanAuthor = %q, want %q", got, "Acme Vision")
	}
}

func intPtr(n int) *int { return &n }

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fmtIntPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
