package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileError is a schema error with source position when available.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile compiles CUE source text.
func Compile(src string) (*Schema, error) {
	v := cuecontext.New().CompileString(src, cue.Filename("schema.cue"))
	return compileValue(v)
}

// Load compiles every .cue file in dir as one CUE instance.
func Load(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("load schema: not a directory: %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("load schema: no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load schema: no CUE instances loaded")
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load schema: %w", formatCUEError(inst.Err))
	}

	return compileValue(cuecontext.New().BuildInstance(inst))
}

func compileValue(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, &CompileError{Field: "entity", Message: "no entities declared", Pos: v.Pos()}
	}

	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{}
	for iter.Next() {
		e, err := compileEntity(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.Entities = append(s.Entities, e)
	}
	if len(s.Entities) == 0 {
		return nil, &CompileError{Field: "entity", Message: "no entities declared", Pos: entitiesVal.Pos()}
	}
	sortEntities(s.Entities)
	return s, nil
}

func compileEntity(name string, v cue.Value) (*Entity, error) {
	e := &Entity{Name: name}

	keyVal := v.LookupPath(cue.ParsePath("key"))
	if !keyVal.Exists() {
		return nil, &CompileError{Field: name + ".key", Message: "key is required", Pos: v.Pos()}
	}
	key, err := keyVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if key == "" {
		return nil, &CompileError{Field: name + ".key", Message: "key must not be empty", Pos: keyVal.Pos()}
	}
	e.KeyPath = key

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if fieldsVal.Exists() {
		iter, err := fieldsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			f, err := compileField(name, iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			e.Fields = append(e.Fields, f)
		}
	}

	// A top-level key must be a declared field so that it is persisted.
	if !strings.Contains(key, ".") {
		if _, ok := e.Field(key); !ok {
			return nil, &CompileError{
				Field:   name + ".key",
				Message: fmt.Sprintf("key %q is not a declared field", key),
				Pos:     keyVal.Pos(),
			}
		}
	}

	return e, nil
}

func compileField(entity, name string, v cue.Value) (Field, error) {
	f := Field{Name: name, Type: TypeAny}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if typeVal.Exists() {
		t, err := typeVal.String()
		if err != nil {
			return Field{}, formatCUEError(err)
		}
		f.Type = FieldType(t)
		if !f.Type.Valid() {
			return Field{}, &CompileError{
				Field:   entity + ".fields." + name + ".type",
				Message: fmt.Sprintf("unknown type %q (want string, int, float, bool or any)", t),
				Pos:     typeVal.Pos(),
			}
		}
	}

	reqVal := v.LookupPath(cue.ParsePath("required"))
	if reqVal.Exists() {
		req, err := reqVal.Bool()
		if err != nil {
			return Field{}, formatCUEError(err)
		}
		f.Required = req
	}

	return f, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
