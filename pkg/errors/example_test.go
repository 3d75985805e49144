package errors_test

import (
	"fmt"
	"io"

	"github.com/tesseradata/tessera/pkg/errors"
)

// Example demonstrates basic error creation with context details.
func Example() {
	err := errors.New(errors.ErrorTypeSchema, "unsupported field type").
		WithDetail("field", "sensor_grid").
		WithDetail("arrow_type", "fixed_size_list<float16>")

	fmt.Println(err.Error())

	// Output:
	// schema: unsupported field type
}

// ExampleWrap shows how lower-level failures pick up dataset context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeData, "decoding ipc file batch").
		WithDetail("batch", 3)

	if errors.IsType(err, errors.ErrorTypeData) {
		fmt.Println("This is a data error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("The truncated read is still reachable")
	}

	// Output:
	// This is a data error
	// The truncated read is still reachable
}

// ExampleIsType demonstrates that type checks see the outermost error only.
func ExampleIsType() {
	inner := errors.New(errors.ErrorTypeGeometry, "wkb header truncated")
	outer := errors.Wrap(inner, errors.ErrorTypeExport, "building geometry column")

	fmt.Printf("Outer is export: %v\n", errors.IsType(outer, errors.ErrorTypeExport))
	fmt.Printf("Outer is geometry: %v\n", errors.IsType(outer, errors.ErrorTypeGeometry))

	// Output:
	// Outer is export: true
	// Outer is geometry: false
}

// Example_errorChain shows the rendered chain of wrapped messages.
func Example_errorChain() {
	err := errors.New(errors.ErrorTypeIO, "read past mapped region")
	err = errors.Wrap(err, errors.ErrorTypeData, "decoding ipc file batch")
	err = errors.Wrap(err, errors.ErrorTypeExport, "export aborted")

	fmt.Println(err)

	// Output:
	// export: export aborted: data: decoding ipc file batch: io: read past mapped region
}

// Example_details shows extracting structured fields from an error.
func Example_details() {
	err := errors.New(errors.ErrorTypeExport, "geometry exceeds offset range").
		WithDetail("row", 15482).
		WithDetail("bytes", int64(3<<30))

	var e *errors.Error
	if errors.As(err, &e) {
		fmt.Printf("type: %s\n", e.Type)
		fmt.Printf("row: %v\n", e.Details["row"])
	}

	// Output:
	// type: export
	// row: 15482
}
