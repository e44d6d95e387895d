package stdio

import (
	"fmt"
	"os"
)

// Kind tags where a standard stream goes.
type Kind int

const (
	KindInherit Kind = iota
	KindNull
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindFile:
		return "file"
	default:
		return "inherit"
	}
}

// Destination is the replacement for one standard stream. The zero value
// inherits the current stream.
type Destination struct {
	kind     Kind
	file     *os.File
	truncate bool
}

func Inherit() Destination { return Destination{kind: KindInherit} }

func Null() Destination { return Destination{kind: KindNull} }

// ToFile redirects to an already open file. Ownership of f passes to Redirect,
// which closes it once the descriptor has been duplicated.
func ToFile(f *os.File) Destination { return Destination{kind: KindFile, file: f} }

// Truncating returns a copy that empties the file when it is rebound. Files
// are opened for append so nothing is lost if the rebinding never happens.
func (d Destination) Truncating() Destination {
	d.truncate = d.kind == KindFile
	return d
}

func (d Destination) Truncates() bool { return d.truncate }

func (d Destination) Kind() Kind { return d.kind }

func (d Destination) File() *os.File { return d.file }

// Validate rejects a file destination without a file.
func (d Destination) Validate() error {
	if d.kind == KindFile && d.file == nil {
		return fmt.Errorf("file destination without an open file")
	}
	return nil
}

func (d Destination) String() string {
	if d.kind == KindFile && d.file != nil {
		return d.file.Name()
	}
	return d.kind.String()
}
