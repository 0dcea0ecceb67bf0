// Package command turns loosely specified AI tool parameters into valid
// shape records: schema validation, defaulting, colour normalisation,
// composite templates and layout placement.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Tool names accepted by the agent channel.
const (
	ToolInspectCanvas = "inspect-canvas"
	ToolCreateShape   = "create-shape"
	ToolMoveShape     = "move-shape"
	ToolResizeShape   = "resize-shape"
	ToolRotateShape   = "rotate-shape"
	ToolArrangeLayout = "arrange-layout"
	ToolLoginForm     = "create-composite-login-form"
	ToolNavBar        = "create-composite-nav-bar"
)

var Tools = []string{
	ToolInspectCanvas,
	ToolCreateShape,
	ToolMoveShape,
	ToolResizeShape,
	ToolRotateShape,
	ToolArrangeLayout,
	ToolLoginForm,
	ToolNavBar,
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type InspectCanvasParams struct {
	Minimal bool `json:"minimal"`
}

type CreateShapeParams struct {
	ID        string   `json:"id,omitempty"`
	ParentID  string   `json:"parentId,omitempty"`
	Index     string   `json:"index,omitempty"`
	Type      string   `json:"type" validate:"required,oneof=rect rectangle triangle circle ellipse text group"`
	X         *float64 `json:"x" validate:"required"`
	Y         *float64 `json:"y" validate:"required"`
	Width     *float64 `json:"width,omitempty" validate:"omitempty,gt=0"`
	Height    *float64 `json:"height,omitempty" validate:"omitempty,gt=0"`
	Rotation  *float64 `json:"rotation,omitempty"`
	Text      string   `json:"text,omitempty" validate:"max=2000"`
	Color     string   `json:"color,omitempty"`
	Fill      string   `json:"fill,omitempty" validate:"omitempty,oneof=none semi solid pattern"`
	FontSize  *float64 `json:"fontSize,omitempty" validate:"omitempty,gt=0,lte=512"`
	TextAlign string   `json:"textAlign,omitempty"`
}

type MoveShapeParams struct {
	ShapeID string   `json:"shapeId" validate:"required"`
	X       *float64 `json:"x" validate:"required"`
	Y       *float64 `json:"y" validate:"required"`
}

type ResizeShapeParams struct {
	ShapeID string   `json:"shapeId" validate:"required"`
	Width   *float64 `json:"width" validate:"required,gt=0"`
	Height  *float64 `json:"height" validate:"required,gt=0"`
}

type RotateShapeParams struct {
	ShapeID string   `json:"shapeId" validate:"required"`
	Degrees *float64 `json:"degrees" validate:"required"`
}

type ArrangeLayoutParams struct {
	ShapeIDs []string `json:"shapeIds" validate:"required,min=1,dive,required"`
	Layout   string   `json:"layout" validate:"required,oneof=grid row column distribute"`
	Rows     int      `json:"rows,omitempty" validate:"gte=0"`
	Columns  int      `json:"columns,omitempty" validate:"gte=0"`
	Spacing  *float64 `json:"spacing,omitempty" validate:"omitempty,gte=0"`
}

type LoginFormParams struct {
	Origin Point `json:"origin"`
}

type NavBarParams struct {
	Origin Point    `json:"origin"`
	Width  *float64 `json:"width,omitempty" validate:"omitempty,gte=480"`
}

var ErrValidation = errors.New("validation failed")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks params against its struct tags and reports the first
// failing field.
func Validate(params any) error {
	err := validate.Struct(params)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid("", err.Error())
	}
	fe := fieldErrs[0]
	return invalid(fe.Field(), reason(fe))
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// Decode unmarshals raw tool parameters into T and validates them. Empty
// input decodes as the zero value.
func Decode[T any](raw json.RawMessage) (T, error) {
	var params T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &params); err != nil {
			return params, invalid("params", "must be a JSON object matching the tool schema")
		}
	}
	if err := Validate(params); err != nil {
		return params, err
	}
	return params, nil
}
