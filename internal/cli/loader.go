package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/prodsys/internal/compiler"
)

// LoadMode controls how errors are handled during spec loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects every validation error before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading specs from a file or directory.
type LoadResult struct {
	Program   *compiler.Program
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Field   string    // compiler field path when a construct failed to decode
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSpecs loads, compiles and validates CUE specs. path is a single .cue
// file or a directory whose .cue files are unified into one value.
//
// A nil result means nothing could be compiled. Otherwise the returned
// errors are validation errors: only the first in LoadModeFailFast, all
// of them in LoadModeCollectAll.
func LoadSpecs(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs path: %v", err)}}
	}

	dir := path
	var cueFiles []string
	if info.IsDir() {
		cueFiles, err = FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
	} else {
		if filepath.Ext(path) != ".cue" {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("not a CUE file: %s", path)}}
		}
		dir = filepath.Dir(path)
		cueFiles = []string{path}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
	}

	value, loadErr := buildValue(dir, cueFiles)
	if loadErr != nil {
		return nil, []error{loadErr}
	}

	prog, err := compiler.Compile(value)
	if err != nil {
		return nil, []error{convertCompileError(err, "specs")}
	}
	result := &LoadResult{
		Program:   prog,
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	if prog.Len() == 0 {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no constructs found in specs"}}
	}

	var errs []error
	for _, verr := range compiler.Validate(prog) {
		errs = append(errs, verr)
		if mode == LoadModeFailFast {
			break
		}
	}
	return result, errs
}

// buildValue loads the files of each directory as one instance and
// unifies the instances. Files passed explicitly form an instance even
// without a package clause.
func buildValue(root string, files []string) (cue.Value, *LoadError) {
	var dirs []string
	byDir := map[string][]string{}
	for _, f := range files {
		d := filepath.Dir(f)
		if _, ok := byDir[d]; !ok {
			dirs = append(dirs, d)
		}
		byDir[d] = append(byDir[d], "./"+filepath.Base(f))
	}

	ctx := cuecontext.New()
	var value cue.Value
	for i, d := range dirs {
		instances := load.Instances(byDir[d], &load.Config{Dir: d})
		if len(instances) == 0 {
			return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
		}
		if err := instances[0].Err; err != nil {
			return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", err)}
		}
		v := ctx.BuildInstance(instances[0])
		if i == 0 {
			value = v
		} else {
			value = value.Unify(v)
		}
		if err := value.Validate(); err != nil {
			rel, _ := filepath.Rel(root, d)
			return cue.Value{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value in %s: %v", rel, err)}
		}
	}
	return value, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths in
// lexical order.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Field:   compileErr.Field,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeJournal     = "E008" // Journal open or read error

	// Construct decoding errors
	ErrCodeInvalidModule   = "E101"
	ErrCodeInvalidTemplate = "E102"
	ErrCodeInvalidGlobal   = "E103"
	ErrCodeInvalidFacts    = "E104"
	ErrCodeInvalidRule     = "E110"
)

// MapFieldToErrorCode maps a compiler error field, such as
// "rule.r.when[0]", to an error code by its top-level section.
func MapFieldToErrorCode(field string) string {
	section, _, _ := strings.Cut(field, ".")
	switch section {
	case "module":
		return ErrCodeInvalidModule
	case "template":
		return ErrCodeInvalidTemplate
	case "global":
		return ErrCodeInvalidGlobal
	case "facts":
		return ErrCodeInvalidFacts
	case "rule":
		return ErrCodeInvalidRule
	default:
		return ErrCodeGeneric
	}
}
