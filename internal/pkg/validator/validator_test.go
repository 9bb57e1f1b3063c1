package validator

import (
	"strings"
	"testing"
)

type noteInput struct {
	Text string `json:"text" validate:"required,notblank,printable,max=10"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr string
	}{
		{name: "ok", text: "hello"},
		{name: "empty", text: "", wantErr: "This field is required"},
		{name: "blank", text: "   ", wantErr: "Value must not be blank"},
		{name: "control char", text: "hi\x00", wantErr: "Value contains control characters"},
		{name: "too long", text: strings.Repeat("a", 11), wantErr: "Value is too long (max: 10)"},
		{name: "newline allowed", text: "a\nb"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs := Validate(noteInput{Text: tc.text})
			if tc.wantErr == "" {
				if errs != nil {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			if errs["text"] != tc.wantErr {
				t.Fatalf("expected %q, got %v", tc.wantErr, errs)
			}
		})
	}
}

func TestValidateField(t *testing.T) {
	if errs := ValidateField("text", "hi", "required,max=5"); errs != nil {
		t.Fatalf("expected no errors, got %v", errs)
	}
	errs := ValidateField("text", "toolong", "required,max=5")
	if errs["text"] != "Value is too long (max: 5)" {
		t.Fatalf("unexpected errors %v", errs)
	}
}
