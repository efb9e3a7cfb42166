package patch

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"

	"switchboard.dev/internal/apperr"
)

type widget struct {
	ID     int64
	Name   string
	Color  string
	Weight int
}

type widgetRequest struct {
	ID     int64  `json:"id"`
	Name   string `json:"name" validate:"omitempty,max=8"`
	Color  string `json:"color" validate:"omitempty,oneof=red green blue"`
	Weight int    `json:"weight" validate:"gte=0"`
	Serial string `json:"serial" patch:"readonly"`
}

type widgetMapper struct{}

func (widgetMapper) FromInternal(w widget) widgetRequest {
	return widgetRequest{ID: w.ID, Name: w.Name, Color: w.Color, Weight: w.Weight}
}

func (widgetMapper) ToInternal(r widgetRequest) (widget, error) {
	return widget{ID: r.ID, Name: r.Name, Color: r.Color, Weight: r.Weight}, nil
}

func (widgetMapper) ID(w widget) int64          { return w.ID }
func (widgetMapper) SetID(w *widget, id int64) { w.ID = id }

func TestToEntityAppliesPatch(t *testing.T) {
	old := widget{ID: 7, Name: "bolt", Color: "red", Weight: 3}
	ops := Ops{
		{Kind: Replace, Path: "/color", Value: "blue"},
		{Kind: Replace, Path: "/weight", Value: 5},
	}
	got, err := ToEntity[widgetRequest, widget](old, ops, widgetMapper{}, validator.New())
	if err != nil {
		t.Fatalf("ToEntity: %v", err)
	}
	if got.Color != "blue" || got.Weight != 5 || got.Name != "bolt" || got.ID != 7 {
		t.Fatalf("unexpected entity %+v", got)
	}
	if old.Color != "red" {
		t.Fatalf("old entity modified: %+v", old)
	}
}

func TestToEntityReassertsIdentifier(t *testing.T) {
	old := widget{ID: 7, Name: "bolt"}
	ops := Ops{{Kind: Replace, Path: "/id", Value: 99}, {Kind: Replace, Path: "/name", Value: "nut"}}
	got, err := ToEntity[widgetRequest, widget](old, ops, widgetMapper{}, validator.New())
	if err != nil {
		t.Fatalf("ToEntity: %v", err)
	}
	if got.ID != 7 {
		t.Fatalf("identifier changed to %d", got.ID)
	}
	if got.Name != "nut" {
		t.Fatalf("patch not applied: %+v", got)
	}
}

func TestToEntityRejectsUnknownAndReadonlyFields(t *testing.T) {
	old := widget{ID: 1}
	for _, ops := range []Ops{
		{{Kind: Replace, Path: "/owner", Value: "x"}},
		{{Kind: Replace, Path: "/serial", Value: "x"}},
		{{Kind: Move, From: "/serial", Path: "/name"}},
	} {
		_, err := ToEntity[widgetRequest, widget](old, ops, widgetMapper{}, validator.New())
		if !errors.Is(err, apperr.ErrBadRequest) {
			t.Fatalf("expected bad request for %+v, got %v", ops, err)
		}
	}
}

func TestToEntityFieldValidationIsUnprocessable(t *testing.T) {
	old := widget{ID: 1, Color: "red"}
	cases := []Ops{
		{{Kind: Replace, Path: "/color", Value: "purple"}},
		{{Kind: Replace, Path: "/weight", Value: "heavy"}},
		{{Kind: Replace, Path: "/name", Value: "much-too-long-name"}},
	}
	for _, ops := range cases {
		_, err := ToEntity[widgetRequest, widget](old, ops, widgetMapper{}, validator.New())
		if !errors.Is(err, apperr.ErrUnprocessable) {
			t.Fatalf("expected unprocessable for %+v, got %v", ops, err)
		}
	}
}

func TestToEntityIgnoresPreexistingInvalidFields(t *testing.T) {
	old := widget{ID: 1, Color: "legacy", Weight: 1}
	ops := Ops{{Kind: Replace, Path: "/weight", Value: 2}}
	got, err := ToEntity[widgetRequest, widget](old, ops, widgetMapper{}, validator.New())
	if err != nil {
		t.Fatalf("ToEntity: %v", err)
	}
	if got.Weight != 2 || got.Color != "legacy" {
		t.Fatalf("unexpected entity %+v", got)
	}
}

func TestToEntityFailingTestRejectsWholePatch(t *testing.T) {
	old := widget{ID: 1, Color: "red"}
	ops := Ops{
		{Kind: Replace, Path: "/name", Value: "x"},
		{Kind: Test, Path: "/color", Value: "green"},
	}
	_, err := ToEntity[widgetRequest, widget](old, ops, widgetMapper{}, validator.New())
	if !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestValidateRequestReportsEveryMember(t *testing.T) {
	err := ValidateRequest(validator.New(), widgetRequest{Name: "far-too-long", Color: "pink"})
	if !errors.Is(err, apperr.ErrUnprocessable) {
		t.Fatalf("expected unprocessable, got %v", err)
	}
	if got := len(apperr.As(err).Details); got != 2 {
		t.Fatalf("expected two details, got %v", apperr.As(err).Details)
	}
	if err := ValidateRequest(validator.New(), widgetRequest{Name: "ok", Color: "red"}); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}
